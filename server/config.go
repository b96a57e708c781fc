package server

import (
	"errors"
	"fmt"
	"net"
	"net/url"
	"os"
	"strings"
	"time"

	"github.com/BurntSushi/toml"

	"github.com/papercomputeco/supportrelay/pkg/llm"
)

const (
	StoreMemory = "memory"
	StoreSQLite = "sqlite"
)

// Config is the relay server configuration.
type Config struct {
	// Address to listen on (e.g., ":5000")
	ListenAddr string `toml:"listen"`

	// Model identifier sent to the completion service
	Model string `toml:"model"`

	// APIKey authenticates against the completion service
	APIKey string `toml:"api_key"`

	// BaseURL overrides the completion service endpoint. Empty uses the provider default.
	BaseURL string `toml:"base_url"`

	// CORSOrigin is the allowed browser origin ("*" for any)
	CORSOrigin string `toml:"cors_origin"`

	// Store selects the session store backend: "memory" or "sqlite".
	// Both keep state in process memory only.
	Store string `toml:"store"`

	// UpstreamTimeout bounds each completion call
	UpstreamTimeout time.Duration `toml:"upstream_timeout"`

	// Options are sampling parameters forwarded to the completion service
	Options llm.Options `toml:"options"`
}

// DefaultConfig returns the configuration used when nothing overrides it.
func DefaultConfig() Config {
	return Config{
		ListenAddr:      ":5000",
		Model:           "gpt-3.5-turbo",
		CORSOrigin:      "*",
		Store:           StoreMemory,
		UpstreamTimeout: 60 * time.Second,
	}
}

// LoadConfig builds a Config from defaults, then the TOML file at path (when
// path is non-empty), then non-empty environment variables.
func LoadConfig(path string) (Config, error) {
	cfg := DefaultConfig()

	if path != "" {
		md, err := toml.DecodeFile(path, &cfg)
		if err != nil {
			return Config{}, fmt.Errorf("failed to read config %s: %w", path, err)
		}
		if undecoded := md.Undecoded(); len(undecoded) > 0 {
			keys := make([]string, len(undecoded))
			for i, k := range undecoded {
				keys[i] = k.String()
			}
			return Config{}, fmt.Errorf("unknown config keys in %s: %s", path, strings.Join(keys, ", "))
		}
	}

	cfg.applyEnv(os.LookupEnv)
	return cfg, nil
}

func (c *Config) applyEnv(lookup func(string) (string, bool)) {
	if v, ok := lookup("OPENAI_API_KEY"); ok && v != "" {
		c.APIKey = v
	}
	if v, ok := lookup("OPENAI_BASE_URL"); ok && v != "" {
		c.BaseURL = v
	}
	if v, ok := lookup("OPENAI_MODEL"); ok && v != "" {
		c.Model = v
	}
	if v, ok := lookup("PORT"); ok && v != "" {
		c.ListenAddr = withPort(c.ListenAddr, v)
	}
	if v, ok := lookup("CORS_ORIGIN"); ok && v != "" {
		c.CORSOrigin = v
	}
	if v, ok := lookup("RELAY_STORE"); ok && v != "" {
		c.Store = v
	}
}

// Validate reports configuration that cannot serve requests.
func (c Config) Validate() error {
	var errs []error
	if c.APIKey == "" {
		errs = append(errs, errors.New("OPENAI_API_KEY is not set"))
	}
	if c.Model == "" {
		errs = append(errs, errors.New("model must not be empty"))
	}
	switch c.Store {
	case StoreMemory, StoreSQLite:
	default:
		errs = append(errs, fmt.Errorf("unknown store %q (want %q or %q)", c.Store, StoreMemory, StoreSQLite))
	}
	if c.UpstreamTimeout < 0 {
		errs = append(errs, errors.New("upstream_timeout must not be negative"))
	}
	errs = append(errs, validateCORSOrigin(c.CORSOrigin))
	return errors.Join(errs...)
}

// withPort swaps the port of addr, keeping any host it names.
func withPort(addr, port string) string {
	host, _, err := net.SplitHostPort(addr)
	if err != nil {
		return ":" + port
	}
	return net.JoinHostPort(host, port)
}

// validateCORSOrigin accepts "*" alone or a comma separated list of
// scheme://host origins, the forms the cors middleware can parse.
func validateCORSOrigin(origins string) error {
	if origins == "" || origins == "*" {
		return nil
	}
	var errs []error
	for _, origin := range strings.Split(origins, ",") {
		origin = strings.TrimSpace(origin)
		if origin == "*" {
			errs = append(errs, errors.New("cors_origin: \"*\" cannot be combined with other origins"))
			continue
		}
		// Subdomain wildcards ("https://*.example.com") match on the rest of the host.
		u, err := url.Parse(strings.Replace(origin, "://*.", "://", 1))
		if err != nil || u.Scheme == "" || u.Host == "" || strings.Contains(u.Host, "*") ||
			(u.Path != "" && u.Path != "/") || u.RawQuery != "" || u.Fragment != "" {
			errs = append(errs, fmt.Errorf("cors_origin: %q is not a scheme://host origin", origin))
		}
	}
	return errors.Join(errs...)
}
