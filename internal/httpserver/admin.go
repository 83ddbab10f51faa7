package httpserver

import (
	"encoding/base64"
	"net/http"
	"net/url"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/nightgate/resourcegate/internal/domain"
	"github.com/nightgate/resourcegate/internal/gatewayerr"
	"github.com/nightgate/resourcegate/internal/pairing"
	"github.com/nightgate/resourcegate/internal/repo"
)

// AdminHandlers exposes the operator-facing pairing/install HTTP surface
// (spec.md §4.3, §6) on top of pairing.Service. There is no authentication
// middleware in front of these routes at this layer — spec.md's Non-goals
// exclude a multi-user admin console, so the operator is expected to put
// this behind their own network boundary (a loopback bind, an SSH tunnel, a
// reverse proxy with its own auth) rather than the gateway re-implementing one.
type AdminHandlers struct {
	pairing         *pairing.Service
	installSessions repo.InstallSessionRepo
}

func NewAdminHandlers(pairingService *pairing.Service, installSessions repo.InstallSessionRepo) *AdminHandlers {
	return &AdminHandlers{pairing: pairingService, installSessions: installSessions}
}

// Mount attaches every admin/pairing route onto r.
func (h *AdminHandlers) Mount(r chi.Router) {
	r.Post("/pairing", h.handleGeneratePairing)
	r.Post("/install/prepare", h.handlePrepareInstall)
	r.Post("/install/approve", h.handleApprove)
	r.Post("/install/deny", h.handleDeny)
}

type generatePairingResponse struct {
	URI       string `json:"uri"`
	ExpiresAt string `json:"expires_at"`
}

func (h *AdminHandlers) handleGeneratePairing(w http.ResponseWriter, r *http.Request) {
	uri, expiresAt, err := h.pairing.GeneratePairing(r.Context())
	if err != nil {
		writeGatewayErr(w, err)
		return
	}
	Respond(w, http.StatusCreated, generatePairingResponse{URI: uri, ExpiresAt: expiresAt.UTC().Format(time.RFC3339)})
}

type prepareInstallRequest struct {
	Code                 string                      `json:"code" validate:"required"`
	AppName              string                      `json:"appName" validate:"required"`
	AppDescription       string                      `json:"appDescription"`
	AppHomepage          string                      `json:"appHomepage"`
	PublicKey            string                      `json:"publicKey" validate:"required"` // base64-encoded Ed25519 public key
	RequestedPermissions []domain.RequestedPermission `json:"requestedPermissions" validate:"required,min=1"`
	RedirectURI          string                      `json:"redirectUri" validate:"required,url"`
}

type prepareInstallResponse struct {
	SessionToken string `json:"sessionToken"`
	ApprovalURL  string `json:"approvalUrl"`
	ExpiresAt    string `json:"expires_at"`
}

func (h *AdminHandlers) handlePrepareInstall(w http.ResponseWriter, r *http.Request) {
	var req prepareInstallRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	publicKey, err := decodeBase64PublicKey(req.PublicKey)
	if err != nil {
		RespondError(w, http.StatusBadRequest, "bad_request", "publicKey must be a 32-byte base64 value")
		return
	}

	result, err := h.pairing.PrepareInstall(r.Context(), pairing.PrepareInstallRequest{
		Code:                 req.Code,
		AppName:              req.AppName,
		AppDescription:       req.AppDescription,
		AppHomepage:          req.AppHomepage,
		PublicKey:            publicKey,
		RequestedPermissions: req.RequestedPermissions,
		RedirectURI:          req.RedirectURI,
	})
	if err != nil {
		writeGatewayErr(w, err)
		return
	}

	Respond(w, http.StatusCreated, prepareInstallResponse{
		SessionToken: result.SessionToken,
		ApprovalURL:  result.ApprovalURL,
		ExpiresAt:    result.ExpiresAt.UTC().Format(time.RFC3339),
	})
}

type approveRequest struct {
	SessionToken string                     `json:"sessionToken" validate:"required"`
	Grants       []domain.GrantedPermission `json:"grants" validate:"required,min=1"`
}

// handleApprove approves an install session then redirects the caller back
// to the app's redirectUri per spec.md §6's "Approval redirect".
func (h *AdminHandlers) handleApprove(w http.ResponseWriter, r *http.Request) {
	var req approveRequest
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	session, err := h.installSessions.GetByToken(r.Context(), req.SessionToken)
	if err != nil {
		RespondError(w, http.StatusNotFound, "not_found", "install session not found")
		return
	}

	if err := h.pairing.Approve(r.Context(), req.SessionToken, req.Grants); err != nil {
		writeGatewayErr(w, err)
		return
	}

	var earliestExpiry *time.Time
	for _, g := range req.Grants {
		if g.ExpiresAt == nil {
			continue
		}
		if earliestExpiry == nil || g.ExpiresAt.Before(*earliestExpiry) {
			earliestExpiry = g.ExpiresAt
		}
	}
	redirectApproval(w, r, session.RedirectURI, "approved", session.AppID.String(), earliestExpiry)
}

func (h *AdminHandlers) handleDeny(w http.ResponseWriter, r *http.Request) {
	var req struct {
		SessionToken string `json:"sessionToken" validate:"required"`
	}
	if !DecodeAndValidate(w, r, &req) {
		return
	}

	session, err := h.installSessions.GetByToken(r.Context(), req.SessionToken)
	if err != nil {
		RespondError(w, http.StatusNotFound, "not_found", "install session not found")
		return
	}

	if err := h.pairing.Deny(r.Context(), req.SessionToken); err != nil {
		writeGatewayErr(w, err)
		return
	}
	redirectApproval(w, r, session.RedirectURI, "denied", "", nil)
}

// redirectApproval builds the app's redirectUri with the status/app_id/
// expires_at query params spec.md §6 calls for and redirects the caller
// there. If redirectURI fails to parse, the status is reported as JSON
// instead of risking an open redirect to a malformed target.
func redirectApproval(w http.ResponseWriter, r *http.Request, redirectURI, status, appID string, expiresAt *time.Time) {
	u, err := url.Parse(redirectURI)
	if err != nil {
		Respond(w, http.StatusOK, map[string]string{"status": status})
		return
	}
	q := u.Query()
	q.Set("status", status)
	if appID != "" {
		q.Set("app_id", appID)
	}
	if expiresAt != nil {
		q.Set("expires_at", expiresAt.UTC().Format(time.RFC3339))
	}
	u.RawQuery = q.Encode()
	http.Redirect(w, r, u.String(), http.StatusFound)
}

func decodeBase64PublicKey(s string) ([]byte, error) {
	return base64.StdEncoding.DecodeString(s)
}

func writeGatewayErr(w http.ResponseWriter, err error) {
	ge, ok := err.(*gatewayerr.Error)
	if !ok {
		RespondError(w, http.StatusInternalServerError, "internal", err.Error())
		return
	}
	Respond(w, ge.Status, map[string]any{
		"error": map[string]any{
			"code":    ge.Code,
			"message": ge.Message,
			"details": ge.Details,
		},
	})
}
