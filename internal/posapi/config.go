package posapi

import (
	"fmt"
	"strings"
	"time"
)

const (
	defaultListenAddr     = ":9090"
	defaultLoyaltyAddr    = "localhost:7000"
	defaultAllowedOrigin  = "http://localhost:8000"
	defaultLoyaltyTimeout = 3 * time.Second
	defaultHistoryLimit   = 20
	maxHistoryLimit       = 200
)

// Config holds the terminal API settings. Zero values are replaced with
// defaults by Validate.
type Config struct {
	ListenAddr      string
	LoyaltyAddress  string
	LoyaltyInsecure bool
	LoyaltyTimeout  time.Duration
	AllowedOrigins  []string
	HistoryLimit    int32
}

func (cfg *Config) Validate() error {
	cfg.ListenAddr = firstNonBlank(cfg.ListenAddr, defaultListenAddr)
	cfg.LoyaltyAddress = firstNonBlank(cfg.LoyaltyAddress, defaultLoyaltyAddr)
	if cfg.LoyaltyTimeout <= 0 {
		cfg.LoyaltyTimeout = defaultLoyaltyTimeout
	}
	if cfg.HistoryLimit <= 0 {
		cfg.HistoryLimit = defaultHistoryLimit
	}
	if cfg.HistoryLimit > maxHistoryLimit {
		return fmt.Errorf("history limit %d exceeds %d", cfg.HistoryLimit, maxHistoryLimit)
	}
	if len(cfg.AllowedOrigins) == 0 {
		cfg.AllowedOrigins = []string{defaultAllowedOrigin}
	}
	for _, origin := range cfg.AllowedOrigins {
		// Credentialed CORS cannot use a wildcard.
		if origin == "*" {
			return fmt.Errorf("allowed origins: wildcard is not permitted")
		}
	}
	return nil
}

func firstNonBlank(value string, fallback string) string {
	if trimmed := strings.TrimSpace(value); trimmed != "" {
		return trimmed
	}
	return fallback
}

// ParseAllowedOrigins reads a comma-separated origin list, skipping blanks.
func ParseAllowedOrigins(raw string) []string {
	origins := []string{}
	for _, candidate := range strings.Split(raw, ",") {
		if origin := strings.TrimSpace(candidate); origin != "" {
			origins = append(origins, origin)
		}
	}
	return origins
}
