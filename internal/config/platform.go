package config

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/tidwall/gjson"
)

//go:embed config_default.json
var defaultDocument []byte

var (
	ErrConfig          = errors.New("configuration error")
	ErrConfigNotFound  = fmt.Errorf("%w: config file not found", ErrConfig)
	ErrMalformedConfig = fmt.Errorf("%w: malformed config file", ErrConfig)
	ErrUnknownPlatform = fmt.Errorf("%w: unknown platform", ErrConfig)
	ErrMissingField    = fmt.Errorf("%w: required field missing", ErrConfig)
	ErrMissingToken    = fmt.Errorf("%w: api token not set", ErrConfig)
)

// PlatformConfig is one provider endpoint with its default request parameters.
// APIToken is read from the environment on every lookup and is never written back.
type PlatformConfig struct {
	Name             string         `json:"-"`
	BaseURL          string         `json:"base_url"`
	Model            string         `json:"model"`
	SystemPrompt     string         `json:"system_prompt"`
	MaxTokens        int64          `json:"max_tokens"`
	Temperature      float64        `json:"temperature"`
	TopP             float64        `json:"top_p"`
	FrequencyPenalty float64        `json:"frequency_penalty"`
	ExtraBody        map[string]any `json:"extra_body,omitempty"`
	APIToken         string         `json:"-"`
}

// TokenEnvName returns the environment variable holding the platform's API token.
func TokenEnvName(platform string) string {
	return strings.ToUpper(platform) + "_API_TOKEN"
}

// Resolver reads platform configurations from a JSON document keyed by platform name.
type Resolver struct {
	path      string
	template  []byte
	lookupEnv func(string) (string, bool)
}

// Option configures a Resolver.
type Option func(*Resolver)

// WithLookupEnv replaces os.LookupEnv for token resolution.
func WithLookupEnv(fn func(string) (string, bool)) Option {
	return func(r *Resolver) {
		r.lookupEnv = fn
	}
}

// WithTemplate replaces the bundled default document copied on first run.
// A nil template disables the copy.
func WithTemplate(doc []byte) Option {
	return func(r *Resolver) {
		r.template = doc
	}
}

// NewResolver creates a resolver for the live document at path.
// If path is empty, defaults to config.json in the working directory.
func NewResolver(path string, opts ...Option) *Resolver {
	if path == "" {
		path = DefaultConfigPath
	}
	r := &Resolver{
		path:      path,
		template:  defaultDocument,
		lookupEnv: os.LookupEnv,
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// Path returns the live document path.
func (r *Resolver) Path() string {
	return r.path
}

// Platforms returns the platform names in document order.
func (r *Resolver) Platforms() ([]string, error) {
	doc, err := r.load()
	if err != nil {
		return nil, err
	}

	var names []string
	doc.ForEach(func(key, _ gjson.Result) bool {
		names = append(names, key.String())
		return true
	})
	return names, nil
}

// requiredFields must be present in every platform entry. system_prompt may
// be null; extra_body is optional.
var requiredFields = []string{
	"base_url", "model", "system_prompt", "max_tokens", "temperature", "top_p", "frequency_penalty",
}

// PlatformConfig returns the named platform merged with its API token.
func (r *Resolver) PlatformConfig(platform string) (*PlatformConfig, error) {
	doc, err := r.load()
	if err != nil {
		return nil, err
	}

	var entry gjson.Result
	found := false
	doc.ForEach(func(key, value gjson.Result) bool {
		if key.String() == platform {
			entry = value
			found = true
		}
		return true
	})
	if !found {
		return nil, fmt.Errorf("%w: %q not found in %s", ErrUnknownPlatform, platform, r.path)
	}
	if !entry.IsObject() {
		return nil, fmt.Errorf("%w: platform %q is not an object", ErrMalformedConfig, platform)
	}

	for _, key := range requiredFields {
		if !entry.Get(key).Exists() {
			return nil, fmt.Errorf("%w: platform %q has no %s", ErrMissingField, platform, key)
		}
	}

	var cfg PlatformConfig
	if err := json.Unmarshal([]byte(entry.Raw), &cfg); err != nil {
		return nil, fmt.Errorf("%w: platform %q: %v", ErrMalformedConfig, platform, err)
	}
	cfg.Name = platform

	switch {
	case cfg.BaseURL == "":
		return nil, fmt.Errorf("%w: platform %q has no base_url", ErrMissingField, platform)
	case cfg.Model == "":
		return nil, fmt.Errorf("%w: platform %q has no model", ErrMissingField, platform)
	}

	envName := TokenEnvName(platform)
	token, _ := r.lookupEnv(envName)
	if token == "" {
		return nil, fmt.Errorf("%w: environment variable %s is empty or unset", ErrMissingToken, envName)
	}
	cfg.APIToken = token

	return &cfg, nil
}

func (r *Resolver) load() (gjson.Result, error) {
	if err := r.ensureExists(); err != nil {
		return gjson.Result{}, err
	}

	data, err := os.ReadFile(r.path)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return gjson.Result{}, fmt.Errorf("%w: %s", ErrConfigNotFound, r.path)
		}
		return gjson.Result{}, fmt.Errorf("%w: failed to read %s: %v", ErrConfig, r.path, err)
	}

	if !gjson.ValidBytes(data) {
		return gjson.Result{}, fmt.Errorf("%w: %s is not valid JSON", ErrMalformedConfig, r.path)
	}
	doc := gjson.ParseBytes(data)
	if !doc.IsObject() {
		return gjson.Result{}, fmt.Errorf("%w: %s must hold a JSON object", ErrMalformedConfig, r.path)
	}
	return doc, nil
}

// ensureExists copies the template into place when the live document is absent.
func (r *Resolver) ensureExists() error {
	if _, err := os.Stat(r.path); err == nil || !errors.Is(err, fs.ErrNotExist) {
		return nil
	}
	if len(r.template) == 0 {
		return nil
	}

	if dir := filepath.Dir(r.path); dir != "." {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return fmt.Errorf("%w: failed to create config directory: %v", ErrConfig, err)
		}
	}

	f, err := os.OpenFile(r.path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0644)
	if err != nil {
		if errors.Is(err, fs.ErrExist) {
			return nil
		}
		return fmt.Errorf("%w: failed to create %s: %v", ErrConfig, r.path, err)
	}
	defer f.Close()

	if _, err := f.Write(r.template); err != nil {
		return fmt.Errorf("%w: failed to write %s: %v", ErrConfig, r.path, err)
	}
	return nil
}
