// Package render wraps a managed, horizontally scaled rendering farm behind a
// small set of idempotent operations: deploy a render function and site
// bundle, submit composition renders, and poll them to completion. The farm
// performs the actual rendering; this layer only validates, signs, and
// decodes.
package render

import (
	"errors"
	"fmt"
	"net/http"
	"os"
	"strings"
	"time"
)

// DefaultRegion is used when neither the request nor the environment names
// one.
const DefaultRegion = "us-east-1"

// ErrCredentialsMissing indicates the provider credential pair is not
// configured. This is a fatal configuration error, reported before any
// network call and never retried.
var ErrCredentialsMissing = errors.New("render provider credentials are not configured")

// Config stores connectivity information for the render provider.
type Config struct {
	BaseURL             string
	AccessKey           string
	SecretKey           string
	DefaultRegion       string
	DefaultBucket       string
	DefaultFunctionName string
	HTTPClient          *http.Client
	RequestTimeout      time.Duration
}

// LoadConfigFromEnv initialises a Config from environment variables.
func LoadConfigFromEnv() Config {
	cfg := Config{
		BaseURL:             strings.TrimSpace(os.Getenv("CLIPFORGE_RENDER_API")),
		AccessKey:           strings.TrimSpace(os.Getenv("CLIPFORGE_RENDER_ACCESS_KEY")),
		SecretKey:           strings.TrimSpace(os.Getenv("CLIPFORGE_RENDER_SECRET_KEY")),
		DefaultRegion:       strings.TrimSpace(os.Getenv("CLIPFORGE_RENDER_REGION")),
		DefaultBucket:       strings.TrimSpace(os.Getenv("CLIPFORGE_RENDER_BUCKET")),
		DefaultFunctionName: strings.TrimSpace(os.Getenv("CLIPFORGE_RENDER_FUNCTION")),
	}
	if cfg.DefaultRegion == "" {
		cfg.DefaultRegion = DefaultRegion
	}
	return cfg
}

// HasCredentials reports whether the credential pair is present.
func (c Config) HasCredentials() bool {
	return c.AccessKey != "" && c.SecretKey != ""
}

func (c Config) region(requested string) string {
	if trimmed := strings.TrimSpace(requested); trimmed != "" {
		return trimmed
	}
	if c.DefaultRegion != "" {
		return c.DefaultRegion
	}
	return DefaultRegion
}

// ValidationError marks a request that was rejected before any network call
// because a required parameter is missing or malformed.
type ValidationError struct {
	Field string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s is required", e.Field)
}

// IsValidationError reports whether err is a parameter validation failure, as
// opposed to a provider-side error.
func IsValidationError(err error) bool {
	var ve ValidationError
	return errors.As(err, &ve)
}

// ProviderError carries a failure reported by the render provider.
type ProviderError struct {
	Status  int
	Message string
}

func (e ProviderError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("render provider returned status %d", e.Status)
	}
	return fmt.Sprintf("render provider: %s", e.Message)
}
