package errors

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/go-chi/render"
)

// License-specific errors (using errors package for sentinel errors)
var (
	ErrInvalidKey             = errors.New("invalid license key")
	ErrAlreadyUsed            = errors.New("license key already used")
	ErrStorageUnavailable     = errors.New("storage unavailable")
	ErrEntitlementWriteFailed = errors.New("entitlement write failed")
	ErrInvalidRequest         = errors.New("invalid request")
	ErrRateLimited            = errors.New("rate limited")
)

var kindSentinels = map[ErrorKind]error{
	KindInvalidKey:             ErrInvalidKey,
	KindAlreadyUsed:            ErrAlreadyUsed,
	KindStorageUnavailable:     ErrStorageUnavailable,
	KindEntitlementWriteFailed: ErrEntitlementWriteFailed,
	KindInvalidRequest:         ErrInvalidRequest,
	KindRateLimited:            ErrRateLimited,
}

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

// MarshalJSON flattens extensions into the top-level object
func (pd *ProblemDetails) MarshalJSON() ([]byte, error) {
	data := map[string]interface{}{
		"type":   pd.Type,
		"title":  pd.Title,
		"status": pd.Status,
	}
	if pd.Detail != "" {
		data["detail"] = pd.Detail
	}
	if pd.Instance != "" {
		data["instance"] = pd.Instance
	}
	for k, v := range pd.Extensions {
		data[k] = v
	}
	return json.Marshal(data)
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
	pd.Extensions[key] = value
	return pd
}

// MapLicenseError maps license errors to HTTP problem details
func MapLicenseError(err error, traceID, instance string) *ProblemDetails {
	if instance == "" {
		instance = fmt.Sprintf("/trace/%s", traceID)
	}

	var pd *ProblemDetails
	switch KindOf(err) {
	case KindInvalidKey:
		pd = NewProblemDetails(http.StatusNotFound, "/errors/invalid-key", "Invalid License Key",
			"The provided license key does not exist.", instance)
	case KindAlreadyUsed:
		pd = NewProblemDetails(http.StatusConflict, "/errors/already-used", "License Key Already Used",
			"The provided license key has already been redeemed.", instance)
	case KindInvalidRequest:
		pd = NewProblemDetails(http.StatusBadRequest, "/errors/invalid-request", "Invalid Request",
			err.Error(), instance)
	case KindRateLimited:
		pd = NewProblemDetails(http.StatusTooManyRequests, "/errors/rate-limited", "Too Many Requests",
			"Too many redemption attempts. Please try again later.", instance).
			WithExtension("retry_after", 60)
	case KindStorageUnavailable:
		pd = NewProblemDetails(http.StatusServiceUnavailable, "/errors/storage-unavailable", "Storage Unavailable",
			"The license store is temporarily unavailable.", instance)
	case KindEntitlementWriteFailed:
		pd = NewProblemDetails(http.StatusInternalServerError, "/errors/entitlement-write-failed", "Entitlement Write Failed",
			"The key was consumed but the entitlement was not recorded. Contact support.", instance)
	default:
		pd = NewProblemDetails(http.StatusInternalServerError, "/errors/internal-error", "Internal Server Error",
			"An unexpected error occurred while processing your request.", instance)
	}

	kind := KindOf(err)
	if kind == "" {
		kind = KindInternal
	}
	return pd.WithExtension("trace_id", traceID).WithExtension("error_code", string(kind))
}
