package config

import (
	"flag"
	"fmt"
	"net"
	"os"
	"strconv"
	"strings"

	"gopkg.in/yaml.v3"
)

// Flags holds parsed command-line flag values and which were set.
type Flags struct {
	Addr   string
	Data   string
	Config string
	Set    map[string]bool
}

// EffectiveConfigResult is the merged view of flags, env and config file
// that the rest of the server consumes.
type EffectiveConfigResult struct {
	Config  *Config
	Addr    string
	DataDir string
	Source  string // "flags", "env" or "config"
}

// ParseConfigFlags parses command-line flags and returns them as a Flags struct.
func ParseConfigFlags() Flags {
	addrPtr := flag.String("addr", ":5100", "forum listen address (UDP control + TCP stream)")
	dataPtr := flag.String("data", "./.forumdata", "data directory")
	cfgPtr := flag.String("config", "./config.yaml", "path to config file")
	flag.Parse()
	setFlags := make(map[string]bool)
	flag.Visit(func(f *flag.Flag) { setFlags[f.Name] = true })
	return Flags{Addr: *addrPtr, Data: *dataPtr, Config: *cfgPtr, Set: setFlags}
}

// Load reads and parses the YAML config file at path.
func Load(path string) (*Config, error) {
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	var cfg Config
	if err := yaml.Unmarshal(b, &cfg); err != nil {
		return nil, fmt.Errorf("parse config %s: %w", path, err)
	}
	return &cfg, nil
}

// applyEnv overlays FORUMDB_* environment variables onto cfg and reports
// whether any were present.
func applyEnv(cfg *Config) bool {
	used := false
	if v := os.Getenv("FORUMDB_SERVER_ADDR"); v != "" {
		used = true
		if h, p, err := net.SplitHostPort(v); err == nil {
			cfg.Server.Address = h
			if pi, err := strconv.Atoi(p); err == nil {
				cfg.Server.Port = pi
			}
		} else {
			cfg.Server.Address = v
		}
	}
	if v := os.Getenv("FORUMDB_ADMIN_ADDR"); v != "" {
		used = true
		cfg.Server.AdminAddr = v
	}
	if v := os.Getenv("FORUMDB_DATA_DIR"); v != "" {
		used = true
		cfg.Storage.DataDir = v
	}
	if v := os.Getenv("FORUMDB_RESERVATION_TTL"); v != "" {
		used = true
		cfg.Transfer.ReservationTTL = v
	}
	if v := os.Getenv("FORUMDB_LOG_LEVEL"); v != "" {
		used = true
		cfg.Logging.Level = strings.ToLower(strings.TrimSpace(v))
	}
	return used
}

// applyDefaults fills unset values.
func applyDefaults(cfg *Config) {
	if cfg.Server.Port == 0 {
		cfg.Server.Port = 5100
	}
	if cfg.Server.AdminAddr == "" {
		cfg.Server.AdminAddr = ":9400"
	}
	if cfg.Storage.DataDir == "" {
		cfg.Storage.DataDir = "./.forumdata"
	}
	if cfg.Transfer.ReservationTTL == "" {
		cfg.Transfer.ReservationTTL = "30s"
	}
	if cfg.RateLimit.RPS <= 0 {
		cfg.RateLimit.RPS = 50
	}
	if cfg.RateLimit.Burst <= 0 {
		cfg.RateLimit.Burst = 100
	}
	if cfg.Janitor.Cron == "" {
		cfg.Janitor.Cron = "*/5 * * * *"
	}
}

// LoadEffective merges config file, env and flags (flags win, then env,
// then file) into the effective config the server runs with.
func LoadEffective(flags Flags) (EffectiveConfigResult, error) {
	cfg := &Config{}
	source := "flags"
	if b, err := os.ReadFile(flags.Config); err == nil {
		if err := yaml.Unmarshal(b, cfg); err != nil {
			return EffectiveConfigResult{}, fmt.Errorf("parse config %s: %w", flags.Config, err)
		}
		source = "config"
	} else if flags.Set["config"] {
		// an explicitly requested config file must exist
		return EffectiveConfigResult{}, fmt.Errorf("config file %s: %w", flags.Config, err)
	}
	if applyEnv(cfg) {
		source = "env"
	}

	addr := cfg.Addr()
	if flags.Set["addr"] || addr == ":0" {
		addr = flags.Addr
		source = "flags"
	}
	dataDir := cfg.Storage.DataDir
	if flags.Set["data"] || dataDir == "" {
		dataDir = flags.Data
	}
	cfg.Storage.DataDir = dataDir
	applyDefaults(cfg)
	return EffectiveConfigResult{Config: cfg, Addr: addr, DataDir: dataDir, Source: source}, nil
}

// Addr returns the host:port string for the forum listeners.
func (c *Config) Addr() string {
	return net.JoinHostPort(c.Server.Address, strconv.Itoa(c.Server.Port))
}
