package errors

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/go-chi/render"
)

// License engine error taxonomy
var (
	// ErrBadRequest marks input rejected before the activation state machine runs.
	ErrBadRequest = errors.New("bad request")
	// ErrAuthorityUnavailable marks a transport or parse failure talking to the
	// external authority. The engine folds it into an invalid-key verdict.
	ErrAuthorityUnavailable = errors.New("authority unavailable")
	// ErrStoreUnavailable marks a record store failure; fatal to the request.
	ErrStoreUnavailable = errors.New("store unavailable")
	// ErrUnauthorized marks an administrative secret mismatch.
	ErrUnauthorized = errors.New("unauthorized")
)

// ProblemDetails implements RFC 7807 Problem Details for HTTP APIs
type ProblemDetails struct {
	Type     string `json:"type"`
	Title    string `json:"title"`
	Status   int    `json:"status"`
	Detail   string `json:"detail,omitempty"`
	Instance string `json:"instance,omitempty"`

	Extensions map[string]interface{} `json:"-"`
}

// Render implements the render.Renderer interface
func (pd *ProblemDetails) Render(w http.ResponseWriter, r *http.Request) error {
	render.Status(r, pd.Status)
	return nil
}

// MarshalJSON flattens extensions next to the standard members.
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := make(map[string]interface{}, 5+len(pd.Extensions))

	for k, v := range pd.Extensions {
		data[k] = v
	}

	data["type"] = pd.Type
	data["title"] = pd.Title
	data["status"] = pd.Status
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}

	return json.Marshal(data)
}

// Error lets a ProblemDetails travel through error returns.
func (pd *ProblemDetails) Error() string {
	if pd.Detail != "" {
		return pd.Title + ": " + pd.Detail
	}
	return pd.Title
}

// NewProblemDetails creates a new RFC 7807 compliant error
func NewProblemDetails(status int, problemType, title, detail, instance string) *ProblemDetails {
	return &ProblemDetails{
		Type:       problemType,
		Title:      title,
		Status:     status,
		Detail:     detail,
		Instance:   instance,
		Extensions: make(map[string]interface{}),
	}
}

// WithExtension adds an extension field to the problem details
func (pd *ProblemDetails) WithExtension(key string, value interface{}) *ProblemDetails {
	if pd.Extensions == nil {
		pd.Extensions = make(map[string]interface{})
	}
	pd.Extensions[key] = value
	return pd
}

// MapLicenseError maps engine errors to problem details. Store failures stay
// opaque; only the trace id is exposed.
func MapLicenseError(err error, instance, traceID string) *ProblemDetails {
	var problem *ProblemDetails

	switch {
	case errors.Is(err, ErrBadRequest):
		problem = NewProblemDetails(
			http.StatusBadRequest,
			TypeValidation,
			"Invalid Request",
			"A license key and a device id are required.",
			instance,
		).WithExtension("error", "Invalid Request").
			WithExtension("error_code", "INVALID_REQUEST")

	case errors.Is(err, ErrUnauthorized):
		problem = NewProblemDetails(
			http.StatusUnauthorized,
			TypeUnauthorized,
			"Unauthorized",
			"A valid administrative secret is required.",
			instance,
		).WithExtension("error_code", "UNAUTHORIZED")

	case errors.Is(err, ErrStoreUnavailable):
		problem = NewProblemDetails(
			http.StatusInternalServerError,
			TypeStoreUnavailable,
			"Internal Server Error",
			"The license store is temporarily unavailable.",
			instance,
		).WithExtension("error_code", "STORE_UNAVAILABLE")

	case errors.Is(err, ErrAuthorityUnavailable):
		problem = NewProblemDetails(
			http.StatusBadGateway,
			TypeServiceDown,
			"Authority Unavailable",
			"The license authority could not be reached.",
			instance,
		).WithExtension("error_code", "AUTHORITY_UNAVAILABLE")

	default:
		problem = NewProblemDetails(
			http.StatusInternalServerError,
			TypeInternal,
			"Internal Server Error",
			"An unexpected error occurred while processing your request.",
			instance,
		).WithExtension("error_code", "INTERNAL_ERROR")
	}

	if traceID != "" {
		problem.WithExtension("trace_id", traceID)
	}
	return problem
}
