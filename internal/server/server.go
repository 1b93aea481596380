// Package server runs the forum's two listeners on one port: the UDP
// control channel (one dispatched goroutine per datagram) and the TCP
// stream channel (one goroutine per accepted transfer connection).
package server

import (
	"context"
	"fmt"
	"net"
	"sync"

	"forumdb/pkg/dispatch"
	"forumdb/pkg/logger"
	"forumdb/pkg/telemetry"
	"forumdb/pkg/transfer"
)

// maxDatagram bounds one control request; the original protocol used 4 KiB.
const maxDatagram = 4096

// Config holds the listener settings.
type Config struct {
	// Addr is the host:port both transports bind.
	Addr string
	// RPS/Burst throttle control datagrams per source address.
	RPS   float64
	Burst int
}

// Server owns the UDP and TCP listeners and fans requests out to the
// dispatcher and the transfer coordinator.
type Server struct {
	cfg         Config
	dispatcher  *dispatch.Dispatcher
	coordinator *transfer.Coordinator
	limiters    *limiterPool

	udpConn      *net.UDPConn
	tcpListener  net.Listener
	shutdown     chan struct{}
	shutdownOnce sync.Once
	wg           sync.WaitGroup
}

// New creates a server for the given dispatcher and coordinator.
func New(cfg Config, d *dispatch.Dispatcher, c *transfer.Coordinator) *Server {
	return &Server{
		cfg:         cfg,
		dispatcher:  d,
		coordinator: c,
		limiters:    newLimiterPool(cfg.RPS, cfg.Burst),
		shutdown:    make(chan struct{}),
	}
}

// Listen binds both transports. It is separate from Serve so callers (and
// tests) can learn the bound addresses before traffic starts.
func (s *Server) Listen() error {
	udpAddr, err := net.ResolveUDPAddr("udp", s.cfg.Addr)
	if err != nil {
		return fmt.Errorf("resolve UDP %s: %w", s.cfg.Addr, err)
	}
	udpConn, err := net.ListenUDP("udp", udpAddr)
	if err != nil {
		return fmt.Errorf("listen UDP %s: %w", s.cfg.Addr, err)
	}
	tcpListener, err := net.Listen("tcp", s.cfg.Addr)
	if err != nil {
		_ = udpConn.Close()
		return fmt.Errorf("listen TCP %s: %w", s.cfg.Addr, err)
	}
	s.udpConn = udpConn
	s.tcpListener = tcpListener
	logger.Info("listeners_bound", "udp", udpConn.LocalAddr().String(), "tcp", tcpListener.Addr().String())
	return nil
}

// UDPAddr returns the bound control address (after Listen).
func (s *Server) UDPAddr() net.Addr { return s.udpConn.LocalAddr() }

// TCPAddr returns the bound stream address (after Listen).
func (s *Server) TCPAddr() net.Addr { return s.tcpListener.Addr() }

// Serve runs both accept loops until the context is cancelled or Stop is
// called. Listen must have been called first.
func (s *Server) Serve(ctx context.Context) error {
	s.wg.Add(2)
	go s.serveControl()
	go s.serveStream()

	go func() {
		select {
		case <-ctx.Done():
			s.Stop()
		case <-s.shutdown:
		}
	}()

	s.wg.Wait()
	return nil
}

// Stop closes both listeners and waits for in-flight work to drain.
func (s *Server) Stop() {
	s.shutdownOnce.Do(func() {
		close(s.shutdown)
		if s.udpConn != nil {
			_ = s.udpConn.Close()
		}
		if s.tcpListener != nil {
			_ = s.tcpListener.Close()
		}
		logger.Info("server_stopping")
	})
}

// serveControl reads datagrams and dispatches each on its own goroutine.
// A request that cannot be parsed never kills the loop; the reply (if any)
// goes back to the datagram's source address.
func (s *Server) serveControl() {
	defer s.wg.Done()
	buf := make([]byte, maxDatagram)
	for {
		n, addr, err := s.udpConn.ReadFromUDP(buf)
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				logger.Warn("control_read_error", "error", err)
				return
			}
		}
		if !s.limiters.Allow(addr.IP.String()) {
			telemetry.DroppedRequests.Inc()
			logger.Debug("control_request_dropped", "from", addr.String())
			continue
		}
		req := string(buf[:n])
		from := addr.String()
		s.wg.Add(1)
		go func(req, from string, addr *net.UDPAddr) {
			defer s.wg.Done()
			resp := s.dispatcher.Handle(req, from)
			if _, err := s.udpConn.WriteToUDP([]byte(resp), addr); err != nil {
				logger.Warn("control_write_error", "to", from, "error", err)
			}
		}(req, from, addr)
	}
}

// serveStream accepts transfer connections and hands each to the
// coordinator.
func (s *Server) serveStream() {
	defer s.wg.Done()
	for {
		conn, err := s.tcpListener.Accept()
		if err != nil {
			select {
			case <-s.shutdown:
				return
			default:
				logger.Warn("stream_accept_error", "error", err)
				return
			}
		}
		s.wg.Add(1)
		go func(c net.Conn) {
			defer s.wg.Done()
			s.coordinator.HandleConn(c)
		}(conn)
	}
}
