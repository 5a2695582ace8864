package watrack

import (
	"encoding/base64"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// ConfigSource resolves one configuration key to a value. An empty string
// means the key is unset.
type ConfigSource func(key string) string

// Config carries everything needed to reach the workflow API and the store.
// BasicUser/BasicPass are only consulted when APIKey is empty.
type Config struct {
	BaseURL        string
	APIPrefix      string
	APIKey         string
	BasicUser      string
	BasicPass      string
	WorkflowID     string
	StoreDSN       string
	RequestTimeout time.Duration
}

// LoadConfig reads configuration through lookup (nil means process env).
// BaseURL and WorkflowID are required; everything else has a default or is
// optional.
func LoadConfig(lookup ConfigSource) (Config, error) {
	if lookup == nil {
		lookup = os.Getenv
	}
	cfg := Config{
		BaseURL:        strings.TrimRight(strings.TrimSpace(lookup("N8N_BASE_URL")), "/"),
		APIPrefix:      strings.TrimSpace(lookup("N8N_API_PREFIX")),
		APIKey:         strings.TrimSpace(lookup("N8N_API_KEY")),
		BasicUser:      strings.TrimSpace(lookup("N8N_BASIC_USER")),
		BasicPass:      lookup("N8N_BASIC_PASS"),
		WorkflowID:     strings.TrimSpace(lookup("WORKFLOW_ID_WHATSAPP")),
		StoreDSN:       strings.TrimSpace(lookup("WATRACK_STORE_DSN")),
		RequestTimeout: 30 * time.Second,
	}
	if cfg.APIPrefix == "" {
		cfg.APIPrefix = "/api/v1"
	}
	if raw := strings.TrimSpace(lookup("REQUEST_TIMEOUT")); raw != "" {
		parsed, err := time.ParseDuration(raw)
		if err != nil || parsed <= 0 {
			return Config{}, fmt.Errorf("%w: REQUEST_TIMEOUT %q", ErrInvalidInput, raw)
		}
		cfg.RequestTimeout = parsed
	}
	if cfg.BaseURL == "" {
		return Config{}, fmt.Errorf("%w: N8N_BASE_URL", ErrMissingConfig)
	}
	if cfg.WorkflowID == "" {
		return Config{}, fmt.Errorf("%w: WORKFLOW_ID_WHATSAPP", ErrMissingConfig)
	}
	return cfg, nil
}

// AuthHeaders builds the request headers for the configured credentials.
// An API key takes precedence over basic auth.
func (c Config) AuthHeaders() map[string]string {
	headers := map[string]string{}
	switch {
	case c.APIKey != "":
		headers["X-N8N-API-KEY"] = c.APIKey
	case c.BasicUser != "":
		token := base64.StdEncoding.EncodeToString([]byte(c.BasicUser + ":" + c.BasicPass))
		headers["Authorization"] = "Basic " + token
	}
	return headers
}

// NewClientFromConfig wires a Client the way every entry point does it.
func NewClientFromConfig(cfg Config) *Client {
	return NewClient(ClientOptions{
		BaseURL:    cfg.BaseURL,
		APIPrefix:  cfg.APIPrefix,
		Headers:    cfg.AuthHeaders(),
		HTTPClient: &http.Client{Timeout: cfg.RequestTimeout},
	})
}

// FileThenEnv resolves keys from an env-format file first, then the process
// environment. File values win so that serve mode picks up rotated
// credentials without a restart.
func FileThenEnv(path string) (ConfigSource, error) {
	values, err := ParseEnvFile(path)
	if err != nil {
		return nil, err
	}
	return func(key string) string {
		if v, ok := values[key]; ok {
			return v
		}
		return os.Getenv(key)
	}, nil
}
