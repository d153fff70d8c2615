package vectorguard

import (
	"fmt"
	"net"
	"os"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config is the on-disk configuration of the engine and its adapters.
type Config struct {
	LogLevel                 string                        `yaml:"log_level"`
	MaxSources               int                           `yaml:"max_sources"`
	MaxObservationsPerSource int                           `yaml:"max_observations_per_source"`
	InferIndicators          *bool                         `yaml:"infer_indicators,omitempty"`
	IgnoreCIDRs              []string                      `yaml:"ignore_cidrs,omitempty"`
	Detectors                map[Category]DetectorOverride `yaml:"detectors,omitempty"`
	Classifier               ClassifierConfig              `yaml:"classifier"`
	Ledger                   LedgerConfig                  `yaml:"ledger"`
	HTTP                     HTTPConfig                    `yaml:"http"`
	NATS                     NATSConfig                    `yaml:"nats"`
	Store                    StoreConfig                   `yaml:"store"`
}

// DetectorOverride switches a detector off or changes its window.
type DetectorOverride struct {
	Enabled *bool         `yaml:"enabled,omitempty"`
	Window  time.Duration `yaml:"window,omitempty"`
}

type ClassifierConfig struct {
	// RateLimit caps classifier calls per second; 0 disables the cap.
	RateLimit int           `yaml:"rate_limit"`
	Timeout   time.Duration `yaml:"timeout"`
}

type LedgerConfig struct {
	TTL time.Duration `yaml:"ttl"`
}

type HTTPConfig struct {
	Addr string `yaml:"addr"`
}

type NATSConfig struct {
	URL     string `yaml:"url"`
	Subject string `yaml:"subject"`
	Queue   string `yaml:"queue"`
}

type StoreConfig struct {
	// Path of the SQLite verdict database. Empty keeps verdicts in memory.
	Path string `yaml:"path"`
	// Retention bounds how long persisted verdicts are kept.
	Retention time.Duration `yaml:"retention"`
}

// DefaultConfig returns the configuration used when no file is given.
func DefaultConfig() *Config {
	return &Config{
		LogLevel:                 "info",
		MaxSources:               defaultMaxSources,
		MaxObservationsPerSource: defaultMaxObservation,
		Classifier: ClassifierConfig{
			RateLimit: 50,
			Timeout:   2 * time.Second,
		},
		Ledger: LedgerConfig{TTL: 5 * time.Minute},
		HTTP:   HTTPConfig{Addr: ":8080"},
		Store:  StoreConfig{Retention: 24 * time.Hour},
		NATS: NATSConfig{
			Subject: "vectorguard.events",
			Queue:   "vectorguard",
		},
	}
}

// LoadConfig reads a YAML file on top of DefaultConfig and validates the result.
func LoadConfig(path string) (*Config, error) {
	cfg := DefaultConfig()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read config %s: %w", path, err)
	}
	if err := yaml.Unmarshal(data, cfg); err != nil {
		return nil, fmt.Errorf("%w: parse %s: %v", ErrInvalidConfig, path, err)
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return cfg, nil
}

var validLogLevels = []string{"trace", "debug", "info", "warn", "error"}

// Validate checks the configuration. Every error wraps ErrInvalidConfig.
func (c *Config) Validate() error {
	if c == nil {
		return fmt.Errorf("%w: config is nil", ErrInvalidConfig)
	}
	if c.LogLevel != "" && !containsFold(validLogLevels, c.LogLevel) {
		return fmt.Errorf("%w: unknown log level %q", ErrInvalidConfig, c.LogLevel)
	}
	if c.MaxSources < 0 {
		return fmt.Errorf("%w: max_sources must not be negative: %d", ErrInvalidConfig, c.MaxSources)
	}
	if c.MaxObservationsPerSource < 0 {
		return fmt.Errorf("%w: max_observations_per_source must not be negative: %d", ErrInvalidConfig, c.MaxObservationsPerSource)
	}
	for cat, override := range c.Detectors {
		if !cat.IsAttack() {
			return fmt.Errorf("%w: unknown detector %q", ErrInvalidConfig, cat)
		}
		if override.Window < 0 {
			return fmt.Errorf("%w: detector %s has negative window %s", ErrInvalidConfig, cat, override.Window)
		}
	}
	for _, cidr := range c.IgnoreCIDRs {
		if _, err := parseCIDR(cidr); err != nil {
			return fmt.Errorf("%w: ignore_cidrs: %v", ErrInvalidConfig, err)
		}
	}
	if c.Classifier.RateLimit < 0 {
		return fmt.Errorf("%w: classifier rate_limit must not be negative: %d", ErrInvalidConfig, c.Classifier.RateLimit)
	}
	if c.Classifier.Timeout < 0 {
		return fmt.Errorf("%w: classifier timeout must not be negative", ErrInvalidConfig)
	}
	if c.Ledger.TTL < 0 {
		return fmt.Errorf("%w: ledger ttl must not be negative", ErrInvalidConfig)
	}
	if c.Store.Retention < 0 {
		return fmt.Errorf("%w: store retention must not be negative", ErrInvalidConfig)
	}
	if c.NATS.URL != "" && c.NATS.Subject == "" {
		return fmt.Errorf("%w: nats subject is required when url is set", ErrInvalidConfig)
	}
	return nil
}

// DetectorEnabled reports whether the detector for cat should receive events.
func (c *Config) DetectorEnabled(cat Category) bool {
	override, ok := c.Detectors[cat]
	if !ok || override.Enabled == nil {
		return true
	}
	return *override.Enabled
}

func (c *Config) detectorWindow(cat Category, fallback time.Duration) time.Duration {
	if override, ok := c.Detectors[cat]; ok && override.Window > 0 {
		return override.Window
	}
	return fallback
}

func (c *Config) inferIndicators() bool {
	return c.InferIndicators == nil || *c.InferIndicators
}

func parseCIDRs(cidrs []string) []*net.IPNet {
	var nets []*net.IPNet
	for _, c := range cidrs {
		n, err := parseCIDR(c)
		if err == nil && n != nil {
			nets = append(nets, n)
		}
	}
	return nets
}

// parseCIDR accepts CIDR notation or a single address.
func parseCIDR(value string) (*net.IPNet, error) {
	value = strings.TrimSpace(value)
	if value == "" {
		return nil, nil
	}
	if _, n, err := net.ParseCIDR(value); err == nil {
		return n, nil
	}
	ip := net.ParseIP(value)
	if ip == nil {
		return nil, fmt.Errorf("invalid address or range %q", value)
	}
	if v4 := ip.To4(); v4 != nil {
		ip = v4
	}
	mask := net.CIDRMask(len(ip)*8, len(ip)*8)
	return &net.IPNet{IP: ip, Mask: mask}, nil
}

func ipInNets(ipStr string, nets []*net.IPNet) bool {
	if ipStr == "" || len(nets) == 0 {
		return false
	}
	addr := net.ParseIP(ipStr)
	if addr == nil {
		return false
	}
	for _, n := range nets {
		if n.Contains(addr) {
			return true
		}
	}
	return false
}

func containsFold(values []string, v string) bool {
	for _, candidate := range values {
		if strings.EqualFold(candidate, strings.TrimSpace(v)) {
			return true
		}
	}
	return false
}
