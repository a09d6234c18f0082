// Package llmclient adapts vendor model APIs to the ModelClient interface.
// Each adapter translates the neutral conversation turns into the vendor's
// envelope, declares the desktop tools, and maps the reply back into a
// ModelTurn, so the rest of the program never touches provider payloads.
package llmclient

import (
	"net/http"
	"time"

	"github.com/cenkalti/backoff/v4"
	jsoniter "github.com/json-iterator/go"

	"github.com/xkilldash9x/operator-cli/api/schemas"
)

var llmJSON = jsoniter.ConfigCompatibleWithStandardLibrary

// defaultScreenshotMediaType applies when a driver did not label its image.
const defaultScreenshotMediaType = "image/png"

// defaultBackoffFactory builds the shared retry policy for transient API
// failures. Clients hold it as a swappable field so tests can substitute a
// fast policy.
func defaultBackoffFactory() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.MaxElapsedTime = 2 * time.Minute
	b.MaxInterval = 30 * time.Second
	return b
}

// apiStatusError classifies an HTTP failure from a provider. Transient
// statuses come back bare so the backoff retries them; everything else is
// wrapped permanent. Rate limits are marked so the orchestrator can tell
// the caller to slow down rather than give up.
func apiStatusError(provider string, statusCode int, message string) error {
	perr := &schemas.ProviderError{
		Provider:    provider,
		StatusCode:  statusCode,
		Message:     message,
		RateLimited: statusCode == http.StatusTooManyRequests,
	}
	if retryableStatus(statusCode) {
		return perr
	}
	return backoff.Permanent(perr)
}

func retryableStatus(statusCode int) bool {
	switch statusCode {
	case http.StatusTooManyRequests,
		http.StatusInternalServerError,
		http.StatusBadGateway,
		http.StatusServiceUnavailable,
		http.StatusGatewayTimeout,
		529: // Anthropic "overloaded_error"
		return true
	default:
		return false
	}
}

// resultMediaType returns the image media type of a result, defaulted for
// drivers that hand back unlabeled screenshots.
func resultMediaType(res *schemas.ActionResult) string {
	if res != nil && res.ImageMediaType != "" {
		return res.ImageMediaType
	}
	return defaultScreenshotMediaType
}

// resultText flattens a non-image action result into the text a provider
// expects inside a tool result. Image results are handled natively by each
// adapter and report only a short caption here.
func resultText(res *schemas.ActionResult) string {
	if res == nil {
		return "The action produced no result."
	}
	switch res.Kind {
	case schemas.ResultText:
		return res.Text
	case schemas.ResultMetadata:
		if data, err := llmJSON.Marshal(res.Metadata); err == nil {
			return string(data)
		}
		return "The action produced unencodable metadata."
	case schemas.ResultImage:
		return "Screenshot captured."
	default:
		return "The action completed."
	}
}
