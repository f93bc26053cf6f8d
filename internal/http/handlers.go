package http

import (
	"encoding/base64"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	"github.com/wolfeidau/signoff/internal/models"
	"github.com/wolfeidau/signoff/internal/pki"
	"github.com/wolfeidau/signoff/internal/signature"
	"github.com/wolfeidau/signoff/internal/store"
	"github.com/wolfeidau/signoff/internal/trust"
	"github.com/wolfeidau/signoff/internal/verification"
)

// maxBodySize covers the largest electronic signature image once base64
// encoded, plus the JSON around it.
const maxBodySize = 1 << 20

// API serves authorizations and their signatures.
type API struct {
	svc   *verification.Service
	store store.AuthorizationStore
	clock trust.Clock
}

func NewAPI(svc *verification.Service, authorizations store.AuthorizationStore, clock trust.Clock) *API {
	if clock == nil {
		clock = trust.SystemClock()
	}
	return &API{svc: svc, store: authorizations, clock: clock}
}

type createAuthorizationRequest struct {
	Title   string `json:"title"`
	Content string `json:"content"`
}

type authorizationResponse struct {
	ID             uuid.UUID       `json:"id"`
	Title          string          `json:"title"`
	Content        string          `json:"content"`
	SignatureState signature.State `json:"signatureState"`
	Version        int64           `json:"version"`
	CreatedAt      time.Time       `json:"createdAt"`
	UpdatedAt      time.Time       `json:"updatedAt"`
}

func newAuthorizationResponse(a *models.Authorization) authorizationResponse {
	return authorizationResponse{
		ID:             a.ID,
		Title:          a.Title,
		Content:        string(a.Content),
		SignatureState: a.SignatureState,
		Version:        a.Version,
		CreatedAt:      a.CreatedAt,
		UpdatedAt:      a.UpdatedAt,
	}
}

type signRequest struct {
	Resign bool `json:"resign"`
}

type electronicSignRequest struct {
	SignerName     string       `json:"signerName"`
	SignerTitle    pki.Optional `json:"signerTitle"`
	SignatureImage string       `json:"signatureImage"` // base64
}

type reverifyResponse struct {
	Evaluation trust.Evaluation      `json:"evaluation"`
	Details    *verification.Details `json:"details"`
}

func (api *API) Health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (api *API) CreateAuthorization(w http.ResponseWriter, r *http.Request) {
	var req createAuthorizationRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	a, err := models.NewAuthorization(req.Title, []byte(req.Content), api.clock.Now())
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := api.store.Create(r.Context(), a); err != nil {
		writeError(w, r, err)
		return
	}

	w.Header().Set("Location", "/authorizations/"+a.ID.String())
	writeJSON(w, http.StatusCreated, newAuthorizationResponse(a))
}

func (api *API) GetAuthorization(w http.ResponseWriter, r *http.Request) {
	id, err := authorizationID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	a, err := api.store.Get(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, newAuthorizationResponse(a))
}

func (api *API) GetSignature(w http.ResponseWriter, r *http.Request) {
	id, err := authorizationID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	details, err := api.svc.GetSignatureDetails(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// SignWithCertificate signs with the certificate presented in the TLS
// handshake. The certificate is never taken from the request body.
func (api *API) SignWithCertificate(w http.ResponseWriter, r *http.Request) {
	id, err := authorizationID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	if r.TLS == nil || len(r.TLS.PeerCertificates) == 0 {
		writeError(w, r, errNoClientCertificate)
		return
	}

	var req signRequest
	if err := decodeBody(r, &req, true); err != nil {
		writeError(w, r, err)
		return
	}

	peers := r.TLS.PeerCertificates
	if _, err := api.svc.SignNow(r.Context(), id, peers[0].Raw, verification.SignOptions{
		Chain:  peers[1:],
		Resign: req.Resign,
	}); err != nil {
		writeError(w, r, err)
		return
	}

	details, err := api.svc.GetSignatureDetails(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

func (api *API) SignElectronic(w http.ResponseWriter, r *http.Request) {
	id, err := authorizationID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	var req electronicSignRequest
	if err := decodeBody(r, &req, false); err != nil {
		writeError(w, r, err)
		return
	}

	image, err := base64.StdEncoding.DecodeString(req.SignatureImage)
	if err != nil {
		writeError(w, r, errors.Join(signature.ErrInvalidElectronicSignature, err))
		return
	}

	if _, err := api.svc.SignElectronic(r.Context(), id, req.SignerName, req.SignerTitle, image); err != nil {
		writeError(w, r, err)
		return
	}

	details, err := api.svc.GetSignatureDetails(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, details)
}

// Reverify answers 200 even when the certificate is no longer trusted; the
// outcome is in the evaluation.
func (api *API) Reverify(w http.ResponseWriter, r *http.Request) {
	id, err := authorizationID(r)
	if err != nil {
		writeError(w, r, err)
		return
	}

	eval, err := api.svc.Reverify(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}

	details, err := api.svc.GetSignatureDetails(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, reverifyResponse{Evaluation: eval, Details: details})
}

func authorizationID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		return uuid.Nil, errors.Join(errInvalidID, err)
	}
	return id, nil
}

func decodeBody(r *http.Request, v any, optional bool) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodySize))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		if optional && errors.Is(err, io.EOF) {
			return nil
		}
		return errors.Join(errInvalidBody, err)
	}
	return nil
}
