package api

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/example/ec-fulfillment/internal/domain/errs"
	"go.uber.org/zap"
)

var errBadRequest = errs.New(errs.ValidationFailed, "malformed request body")

// statusFor maps an error kind to an HTTP status.
func statusFor(err error) int {
	switch errs.KindOf(err) {
	case errs.NotFound:
		return http.StatusNotFound
	case errs.Conflict:
		return http.StatusConflict
	case errs.ValidationFailed, errs.SignatureInvalid:
		return http.StatusBadRequest
	case errs.GatewayUnavailable:
		return http.StatusServiceUnavailable
	}
	if errors.Is(err, http.ErrHandlerTimeout) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func respondJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(data)
}

func (h *Handlers) respondError(w http.ResponseWriter, r *http.Request, status int, err error) {
	msg := err.Error()
	if status >= http.StatusInternalServerError {
		h.logger.Error("request failed",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Error(err))
		if status == http.StatusInternalServerError {
			msg = "internal error"
		}
	}
	body := map[string]string{"error": msg}
	if kind := errs.KindOf(err); kind != "" {
		body["kind"] = string(kind)
	}
	respondJSON(w, status, body)
}

func (h *Handlers) fail(w http.ResponseWriter, r *http.Request, err error) {
	h.respondError(w, r, statusFor(err), err)
}
