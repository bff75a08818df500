package toolserver

import (
	"net/url"
	"strings"
	"time"

	"polyagent/internal/config"
	"polyagent/internal/errs"
)

// Config describes one remote MCP tool server.
type Config struct {
	Name         string
	URL          string
	APIKey       string
	Timeout      time.Duration
	CacheEnabled bool
	// CacheTTL of zero keeps cached tool lists until evicted by size.
	CacheTTL time.Duration
}

// FromConfig maps the mcp section of the application config.
func FromConfig(c config.MCPConfig) Config {
	return Config{
		Name:         strings.TrimSpace(c.Name),
		URL:          strings.TrimSpace(c.URL),
		APIKey:       strings.TrimSpace(c.APIKey),
		Timeout:      c.Timeout(),
		CacheEnabled: c.CacheEnabled,
		CacheTTL:     c.CacheTTL(),
	}
}

// Validate reports a ConfigurationError for settings that can never connect.
func (c Config) Validate() error {
	raw := strings.TrimSpace(c.URL)
	if raw == "" {
		return &errs.ConfigurationError{Msg: "tool server url is required", MissingKeys: []string{"MCP_REMOTE_ENDPOINT"}}
	}
	lower := strings.ToLower(raw)
	if !strings.HasPrefix(lower, "http://") && !strings.HasPrefix(lower, "https://") {
		return errs.Configf("tool server url must start with http:// or https://, got %q", raw)
	}
	u, err := url.Parse(raw)
	if err != nil || u.Host == "" {
		return errs.Configf("tool server url is malformed: %q", raw)
	}
	if c.Timeout <= 0 {
		return errs.Configf("tool server timeout must be > 0, got %s", c.Timeout)
	}
	if c.CacheTTL < 0 {
		return errs.Configf("tool server cache ttl must be >= 0, got %s", c.CacheTTL)
	}
	return nil
}

func (c Config) displayName() string {
	if c.Name != "" {
		return c.Name
	}
	return c.URL
}
