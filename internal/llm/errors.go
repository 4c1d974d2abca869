package llm

import (
	"errors"
	"fmt"
	"strings"

	"google.golang.org/genai"
)

var (
	// ErrModelUnavailable means no credential is configured. It is an
	// expected steady state; callers fall back to heuristics.
	ErrModelUnavailable = errors.New("analysis model not configured")

	// ErrInvalidCredential means a credential is configured but the service
	// rejected it. Operators need to act on it.
	ErrInvalidCredential = errors.New("analysis model credential rejected")

	// ErrParse means the model answered with non-JSON or schema-violating output.
	ErrParse = errors.New("unparseable model output")

	// ErrEmptyEmbedding means the embedding call returned no values.
	ErrEmptyEmbedding = errors.New("empty embedding")
)

// TransientError wraps a retryable service failure that outlived the retry budget.
type TransientError struct {
	Attempts int
	Err      error
}

func (e *TransientError) Error() string {
	return fmt.Sprintf("model service unavailable after %d attempts: %v", e.Attempts, e.Err)
}

func (e *TransientError) Unwrap() error { return e.Err }

func asAPIError(err error) (genai.APIError, bool) {
	var v genai.APIError
	if errors.As(err, &v) {
		return v, true
	}
	var p *genai.APIError
	if errors.As(err, &p) && p != nil {
		return *p, true
	}
	return genai.APIError{}, false
}

// isTransient reports service-unavailable failures, the only class retried.
func isTransient(err error) bool {
	if apiErr, ok := asAPIError(err); ok {
		if apiErr.Code == 503 || apiErr.Status == "UNAVAILABLE" {
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "503") || strings.Contains(msg, "Service Unavailable")
}

// isInvalidCredential recognises the service's "bad API key" answers.
func isInvalidCredential(err error) bool {
	if errors.Is(err, ErrInvalidCredential) {
		return true
	}
	if apiErr, ok := asAPIError(err); ok {
		if apiErr.Code == 401 {
			return true
		}
		for _, d := range apiErr.Details {
			if reason, _ := d["reason"].(string); reason == "API_KEY_INVALID" {
				return true
			}
		}
		if strings.Contains(apiErr.Message, "API key not valid") {
			return true
		}
	}
	msg := err.Error()
	return strings.Contains(msg, "API key not valid") || strings.Contains(msg, "API_KEY_INVALID")
}

// classify maps a raw backend error onto the adapter's error taxonomy.
func classify(err error) error {
	if err == nil {
		return nil
	}
	if isInvalidCredential(err) {
		return fmt.Errorf("%w: %v", ErrInvalidCredential, err)
	}
	return err
}
