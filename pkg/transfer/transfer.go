// Package transfer bridges a validated UPD/DWN control command to the one
// stream connection that carries the bytes. A READY control response puts a
// reservation in the table; the stream handler claims it by the header line
// "UPLOAD <title> <filename>" or "DOWNLOAD <title> <filename>". Unclaimed
// reservations lapse after the TTL, and nothing here survives a restart.
package transfer

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"net"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"forumdb/pkg/logger"
	"forumdb/pkg/store"
	"forumdb/pkg/telemetry"
)

// Transfer directions as they appear on the wire.
const (
	DirUpload   = "UPLOAD"
	DirDownload = "DOWNLOAD"
)

type reservation struct {
	direction string
	title     string
	filename  string
	user      string
	expires   time.Time
}

func resKey(direction, title, filename string) string {
	return direction + "\x00" + title + "\x00" + filename
}

// Coordinator owns the reservation table and serves the stream side of
// uploads and downloads.
type Coordinator struct {
	threads *store.Store
	ttl     time.Duration

	mu      sync.Mutex
	pending map[string]reservation
}

// NewCoordinator returns a coordinator storing attachment bytes through
// threads, with the given reservation window.
func NewCoordinator(threads *store.Store, ttl time.Duration) *Coordinator {
	if ttl <= 0 {
		ttl = 30 * time.Second
	}
	return &Coordinator{threads: threads, ttl: ttl, pending: make(map[string]reservation)}
}

// Announce opens the reservation window for one forthcoming stream
// connection. Re-announcing the same transfer refreshes the window.
func (c *Coordinator) Announce(direction, title, filename, user string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.pending[resKey(direction, title, filename)] = reservation{
		direction: direction,
		title:     title,
		filename:  filename,
		user:      user,
		expires:   time.Now().Add(c.ttl),
	}
	logger.Info("transfer_announced", "direction", direction, "thread", title, "file", filename, "user", user)
}

// claim consumes a live reservation; expired ones are treated as absent.
func (c *Coordinator) claim(direction, title, filename string) (reservation, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	k := resKey(direction, title, filename)
	r, ok := c.pending[k]
	if !ok {
		return reservation{}, false
	}
	delete(c.pending, k)
	if time.Now().After(r.expires) {
		return reservation{}, false
	}
	return r, true
}

// Sweep drops expired reservations and removes orphaned partial upload
// files older than the TTL. Returns how many entries it cleaned.
func (c *Coordinator) Sweep() int {
	now := time.Now()
	cleaned := 0
	c.mu.Lock()
	for k, r := range c.pending {
		if now.After(r.expires) {
			delete(c.pending, k)
			cleaned++
		}
	}
	c.mu.Unlock()

	entries, err := os.ReadDir(c.threads.AttachDir())
	if err != nil {
		return cleaned
	}
	for _, e := range entries {
		if e.IsDir() || !strings.HasSuffix(e.Name(), ".part") {
			continue
		}
		fi, err := e.Info()
		if err != nil || now.Sub(fi.ModTime()) < c.ttl {
			continue
		}
		p := filepath.Join(c.threads.AttachDir(), e.Name())
		if err := os.Remove(p); err == nil {
			logger.Info("partial_upload_swept", "path", p)
			cleaned++
		}
	}
	return cleaned
}

// HandleConn serves one stream connection end to end: read the header line,
// claim the reservation, move the bytes. Any failure mid-upload discards
// the partial file and records nothing.
func (c *Coordinator) HandleConn(conn net.Conn) {
	defer conn.Close()

	_ = conn.SetReadDeadline(time.Now().Add(c.ttl))
	br := bufio.NewReader(conn)
	line, err := br.ReadString('\n')
	if err != nil {
		logger.Warn("transfer_header_read_failed", "remote", conn.RemoteAddr().String(), "error", err)
		return
	}
	parts := strings.SplitN(strings.TrimSpace(line), " ", 3)
	if len(parts) != 3 || (parts[0] != DirUpload && parts[0] != DirDownload) {
		c.refuse(conn, "malformed header")
		return
	}
	direction, title, filename := parts[0], parts[1], parts[2]

	res, ok := c.claim(direction, title, filename)
	if !ok {
		telemetry.TransfersTotal.WithLabelValues(direction, "unreserved").Inc()
		c.refuse(conn, "no pending transfer")
		return
	}

	switch direction {
	case DirUpload:
		c.receiveUpload(conn, br, res)
	case DirDownload:
		c.sendDownload(conn, res)
	}
}

func (c *Coordinator) refuse(conn net.Conn, reason string) {
	logger.Warn("transfer_refused", "remote", conn.RemoteAddr().String(), "reason", reason)
	_, _ = fmt.Fprintf(conn, "ERROR %s\n", reason)
}

// receiveUpload copies the stream into a temp file and hands it to the
// store, which installs and records it atomically.
func (c *Coordinator) receiveUpload(conn net.Conn, br *bufio.Reader, res reservation) {
	f, err := os.CreateTemp(c.threads.AttachDir(), ".upload-*.part")
	if err != nil {
		logger.Error("upload_temp_create_failed", "thread", res.title, "file", res.filename, "error", err)
		telemetry.TransfersTotal.WithLabelValues(DirUpload, "error").Inc()
		c.refuse(conn, "storage failure")
		return
	}
	tmp := f.Name()

	if _, err := fmt.Fprintf(conn, "READY\n"); err != nil {
		f.Close()
		_ = os.Remove(tmp)
		return
	}
	// the body may take a while; bound it by a fresh deadline per transfer
	_ = conn.SetReadDeadline(time.Now().Add(10 * c.ttl))

	n, copyErr := io.Copy(f, br)
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(tmp)
		logger.Warn("upload_aborted", "thread", res.title, "file", res.filename, "bytes", n,
			"error", errors.Join(copyErr, closeErr))
		telemetry.TransfersTotal.WithLabelValues(DirUpload, "aborted").Inc()
		return
	}

	if err := c.threads.CommitAttachment(res.title, res.filename, res.user, tmp); err != nil {
		logger.Warn("upload_commit_failed", "thread", res.title, "file", res.filename, "error", err)
		telemetry.TransfersTotal.WithLabelValues(DirUpload, "rejected").Inc()
		return
	}
	telemetry.TransfersTotal.WithLabelValues(DirUpload, "ok").Inc()
	telemetry.TransferBytes.WithLabelValues(DirUpload).Add(float64(n))
	logger.Info("upload_complete", "thread", res.title, "file", res.filename, "uploader", res.user, "bytes", n)
}

// sendDownload streams the recorded attachment to the client and closes.
// Downloads mutate nothing.
func (c *Coordinator) sendDownload(conn net.Conn, res reservation) {
	f, err := os.Open(c.threads.AttachmentPath(res.title, res.filename))
	if err != nil {
		logger.Warn("download_open_failed", "thread", res.title, "file", res.filename, "error", err)
		telemetry.TransfersTotal.WithLabelValues(DirDownload, "error").Inc()
		c.refuse(conn, "file unavailable")
		return
	}
	defer f.Close()

	if _, err := fmt.Fprintf(conn, "READY\n"); err != nil {
		return
	}
	n, err := io.Copy(conn, f)
	if err != nil {
		logger.Warn("download_aborted", "thread", res.title, "file", res.filename, "bytes", n, "error", err)
		telemetry.TransfersTotal.WithLabelValues(DirDownload, "aborted").Inc()
		return
	}
	telemetry.TransfersTotal.WithLabelValues(DirDownload, "ok").Inc()
	telemetry.TransferBytes.WithLabelValues(DirDownload).Add(float64(n))
	logger.Info("download_complete", "thread", res.title, "file", res.filename, "bytes", n)
}
