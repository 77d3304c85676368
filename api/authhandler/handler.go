// Package authhandler serves the registration and two-step login endpoints
// of all three principal pools.
package authhandler

import (
	"encoding/json"
	"errors"
	"log/slog"
	"net/http"

	"github.com/go-chi/chi/v5"

	"github.com/tiacvote/poll-ceremony-backend/api"
	"github.com/tiacvote/poll-ceremony-backend/auth"
	"github.com/tiacvote/poll-ceremony-backend/interfaces"
)

// Handler processes HTTP requests for registration and login.
type Handler struct {
	auth *auth.Service
	log  *slog.Logger
}

// NewHandler creates a new auth request handler.
func NewHandler(authService *auth.Service, log *slog.Logger) *Handler {
	return &Handler{auth: authService, log: log}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Post("/api/admin/register", h.HandleAdminRegister)
	r.Post("/api/admin/login/start", h.loginStart(interfaces.RoleAdmin))
	r.Post("/api/admin/login/verify", h.loginVerify(interfaces.RoleAdmin))

	r.Post("/api/voter/login/start", h.loginStart(interfaces.RoleVoter))
	r.Post("/api/voter/login/verify", h.loginVerify(interfaces.RoleVoter))

	r.Post("/api/authority/register", h.HandleAuthorityRegister)
	r.Post("/api/authority/login/start", h.loginStart(interfaces.RoleAuthority))
	r.Post("/api/authority/login/verify", h.loginVerify(interfaces.RoleAuthority))
}

type registerRequest struct {
	TCNumber string `json:"tc_number"`
	Email    string `json:"email"`
	Phone    string `json:"phone"`
	Name     string `json:"name"`
}

type loginStartRequest struct {
	TCNumber string `json:"tc_number"`
	Email    string `json:"email"`
}

type loginVerifyRequest struct {
	TCNumber  string `json:"tc_number"`
	Email     string `json:"email"`
	EmailCode string `json:"email_code"`
	PhoneCode string `json:"phone_code"`
}

type tokenResponse struct {
	Token string `json:"token"`
}

func decode(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}

// HandleAdminRegister creates a new admin account.
//
// URL format: POST /api/admin/register
func (h *Handler) HandleAdminRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		api.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	admin, err := h.auth.RegisterAdmin(r.Context(), req.TCNumber, req.Email, req.Phone)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, admin)
}

// HandleAuthorityRegister creates a new authority account.
//
// URL format: POST /api/authority/register
func (h *Handler) HandleAuthorityRegister(w http.ResponseWriter, r *http.Request) {
	var req registerRequest
	if err := decode(r, &req); err != nil {
		api.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	authority, err := h.auth.RegisterAuthority(r.Context(), req.TCNumber, req.Email, req.Phone, req.Name)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, authority)
}

// loginStart builds the first-step login handler for one pool: credential
// check plus passcode issuance.
func (h *Handler) loginStart(role interfaces.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginStartRequest
		if err := decode(r, &req); err != nil {
			api.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		if err := h.auth.LoginStart(r.Context(), role, req.TCNumber, req.Email); err != nil {
			api.WriteError(w, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, map[string]string{"status": "codes sent"})
	}
}

// loginVerify builds the second-step login handler for one pool: passcode
// verification plus token issuance.
func (h *Handler) loginVerify(role interfaces.Role) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		var req loginVerifyRequest
		if err := decode(r, &req); err != nil {
			api.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
			return
		}

		token, err := h.auth.LoginVerify(r.Context(), role, req.TCNumber, req.Email, req.EmailCode, req.PhoneCode)
		if err != nil {
			api.WriteError(w, err)
			return
		}
		api.WriteJSON(w, http.StatusOK, tokenResponse{Token: token})
	}
}
