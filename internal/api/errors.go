// SPDX-License-Identifier: MIT

package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/openbookings/calsync/internal/coalesce"
	"github.com/openbookings/calsync/internal/provider"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(v)
}

func writeBadRequest(w http.ResponseWriter, msg string) {
	writeJSON(w, http.StatusBadRequest, map[string]string{"error": msg})
}

func writeNotFound(w http.ResponseWriter) {
	writeJSON(w, http.StatusNotFound, map[string]string{"error": "not found"})
}

// writeProviderError maps the error taxonomy onto HTTP statuses. Coalescer
// sentinels are translated first so a dead or expired fetch does not surface
// as a generic exception.
func writeProviderError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, coalesce.ErrWorkerDied):
		writeJSON(w, http.StatusBadGateway, map[string]string{
			"error":  string(provider.CodeWorkerDied),
			"detail": err.Error(),
		})
		return
	case errors.Is(err, coalesce.ErrFetchExpired), errors.Is(err, coalesce.ErrStopped):
		writeJSON(w, http.StatusGatewayTimeout, map[string]string{
			"error":  string(provider.CodeTimeout),
			"detail": err.Error(),
		})
		return
	}

	code := provider.CodeOf(err)

	status := http.StatusBadGateway
	switch code {
	case provider.CodeUnauthorized, provider.CodeTokenExpired:
		status = http.StatusBadGateway
	case provider.CodeNotFound:
		status = http.StatusNotFound
	case provider.CodeRateLimited:
		status = http.StatusTooManyRequests
	case provider.CodeTimeout:
		status = http.StatusGatewayTimeout
	case provider.CodeUnsupportedProvider, provider.CodeModuleUnavailable:
		status = http.StatusUnprocessableEntity
	case provider.CodeException:
		status = http.StatusInternalServerError
	}

	writeJSON(w, status, map[string]string{
		"error":  string(code),
		"detail": err.Error(),
	})
}
