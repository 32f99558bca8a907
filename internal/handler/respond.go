package handler

import (
	"encoding/json"
	"net/http"

	appErrors "github.com/unclebandit/outreach-scheduler/internal/errors"
)

// TenantHeader carries the tenant resolved by the authenticating layer.
const TenantHeader = "X-Tenant-ID"

func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// WriteError maps domain errors onto HTTP status codes.
func WriteError(w http.ResponseWriter, err error) {
	status := http.StatusInternalServerError
	switch {
	case appErrors.IsValidation(err):
		status = http.StatusBadRequest
	case appErrors.IsNotFound(err):
		status = http.StatusNotFound
	case appErrors.IsInvalidTransition(err):
		status = http.StatusConflict
	}
	WriteJSON(w, status, map[string]string{"error": err.Error()})
}

// Tenant returns the tenant id or writes a 400 and returns false.
func Tenant(w http.ResponseWriter, r *http.Request) (string, bool) {
	tenantID := r.Header.Get(TenantHeader)
	if tenantID == "" {
		WriteError(w, appErrors.NewValidation("tenant_id", "missing "+TenantHeader+" header"))
		return "", false
	}
	return tenantID, true
}
