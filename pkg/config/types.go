package config

import "time"

// Config is the main configuration struct.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Storage   StorageConfig   `yaml:"storage"`
	Transfer  TransferConfig  `yaml:"transfer"`
	RateLimit RateLimitConfig `yaml:"rate_limit"`
	Janitor   JanitorConfig   `yaml:"janitor"`
	Logging   LoggingConfig   `yaml:"logging"`
}

// ServerConfig holds the forum and admin listen settings. The control
// (UDP) and stream (TCP) transports share Address:Port; the admin HTTP
// listener (metrics, health) binds AdminAddr.
type ServerConfig struct {
	Address   string `yaml:"address"`
	Port      int    `yaml:"port"`
	AdminAddr string `yaml:"admin_addr"`
}

// StorageConfig holds the data directory. The thread index (pebble), the
// plain-text thread records, the attachment files and the credentials file
// all live under DataDir.
type StorageConfig struct {
	DataDir string `yaml:"data_dir"`
}

// TransferConfig bounds the stream-transfer handshake.
type TransferConfig struct {
	// ReservationTTL is how long a READY answer holds a slot open for the
	// matching stream connection, as a duration string ("30s", "2m").
	ReservationTTL string `yaml:"reservation_ttl"`
}

// TTL parses the reservation window, falling back to 30s.
func (t TransferConfig) TTL() time.Duration {
	if d, err := time.ParseDuration(t.ReservationTTL); err == nil && d > 0 {
		return d
	}
	return 30 * time.Second
}

// RateLimitConfig throttles control requests per source address.
type RateLimitConfig struct {
	RPS   float64 `yaml:"rps"`
	Burst int     `yaml:"burst"`
}

// JanitorConfig holds configuration for the periodic sweep of expired
// reservations and orphaned partial uploads.
type JanitorConfig struct {
	Enabled bool   `yaml:"enabled"`
	Cron    string `yaml:"cron"`
}

// LoggingConfig holds logging configuration.
type LoggingConfig struct {
	Level string `yaml:"level"`
}
