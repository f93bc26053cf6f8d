package http

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/rs/zerolog"
	"github.com/wolfeidau/signoff/internal/models"
	"github.com/wolfeidau/signoff/internal/signature"
	"github.com/wolfeidau/signoff/internal/store"
	"github.com/wolfeidau/signoff/internal/trust"
	"github.com/wolfeidau/signoff/internal/verification"
)

var (
	errNoClientCertificate = errors.New("a client certificate is required to sign")
	errInvalidID           = errors.New("invalid authorization id")
	errInvalidBody         = errors.New("invalid request body")
)

type errorResponse struct {
	Error      string           `json:"error"`
	ReasonCode trust.ReasonCode `json:"reasonCode,omitempty"`
	Notes      string           `json:"notes,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeError maps service errors onto status codes. Trust failures keep
// their reason code so clients can render a precise message.
func writeError(w http.ResponseWriter, r *http.Request, err error) {
	resp := errorResponse{Error: err.Error()}
	status := http.StatusInternalServerError

	var tf *verification.TrustFailure
	switch {
	case errors.As(err, &tf):
		status = http.StatusUnprocessableEntity
		resp.Error = "certificate not trusted"
		resp.ReasonCode = tf.Reason
		resp.Notes = tf.Notes
	case errors.Is(err, verification.ErrMalformedCertificate):
		status = http.StatusBadRequest
		resp.ReasonCode = trust.ReasonMalformed
	case errors.Is(err, errNoClientCertificate):
		status = http.StatusUnauthorized
	case errors.Is(err, store.ErrAuthorizationNotFound):
		status = http.StatusNotFound
	case errors.Is(err, verification.ErrAlreadySigned),
		errors.Is(err, verification.ErrNoSignaturePresent),
		errors.Is(err, verification.ErrSignatureReplaced),
		errors.Is(err, signature.ErrInvalidTransition):
		status = http.StatusConflict
	case errors.Is(err, signature.ErrInvalidElectronicSignature),
		errors.Is(err, models.ErrInvalidAuthorization),
		errors.Is(err, errInvalidID),
		errors.Is(err, errInvalidBody):
		status = http.StatusBadRequest
	}

	if status == http.StatusInternalServerError {
		zerolog.Ctx(r.Context()).Error().Err(err).Str("path", r.URL.Path).Msg("request failed")
		resp.Error = "internal error"
	}

	writeJSON(w, status, resp)
}
