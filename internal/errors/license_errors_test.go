package errors

import (
	"encoding/json"
	"errors"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapLicenseError(t *testing.T) {
	tests := []struct {
		name       string
		err        error
		wantStatus int
		wantCode   string
	}{
		{"invalid key", NewInvalidKeyError("nope"), http.StatusNotFound, "INVALID_KEY"},
		{"already used", ErrAlreadyUsed, http.StatusConflict, "ALREADY_USED"},
		{"invalid request", NewInvalidRequestError("count must be positive", nil), http.StatusBadRequest, "INVALID_REQUEST"},
		{"rate limited", NewRateLimitedError("slow"), http.StatusTooManyRequests, "RATE_LIMITED"},
		{"storage", NewStorageError("down", nil), http.StatusServiceUnavailable, "STORAGE_UNAVAILABLE"},
		{"anomaly", NewEntitlementWriteError("x", nil), http.StatusInternalServerError, "ENTITLEMENT_WRITE_FAILED"},
		{"unknown", errors.New("boom"), http.StatusInternalServerError, "INTERNAL"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			pd := MapLicenseError(tt.err, "trace-1", "")
			assert.Equal(t, tt.wantStatus, pd.Status)
			assert.Equal(t, tt.wantCode, pd.Extensions["error_code"])
			assert.Equal(t, "trace-1", pd.Extensions["trace_id"])
			assert.Equal(t, "/trace/trace-1", pd.Instance)
		})
	}
}

func TestProblemDetailsMarshalJSON(t *testing.T) {
	pd := NewProblemDetails(http.StatusConflict, "/errors/already-used", "License Key Already Used", "", "/healthz").
		WithExtension("error_code", "ALREADY_USED")

	data, err := json.Marshal(pd)
	require.NoError(t, err)

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(data, &decoded))

	assert.Equal(t, "/errors/already-used", decoded["type"])
	assert.Equal(t, float64(http.StatusConflict), decoded["status"])
	assert.Equal(t, "ALREADY_USED", decoded["error_code"])
	assert.Equal(t, "/healthz", decoded["instance"])
	_, hasDetail := decoded["detail"]
	assert.False(t, hasDetail)
}
