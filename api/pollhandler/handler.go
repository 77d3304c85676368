// Package pollhandler serves the poll lifecycle and ceremony endpoints:
// admin poll management and ceremony triggers, the voter and authority
// dashboards, and the public parameter/key reads.
package pollhandler

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/tiacvote/poll-ceremony-backend/api"
	"github.com/tiacvote/poll-ceremony-backend/auth"
	"github.com/tiacvote/poll-ceremony-backend/ceremony"
	"github.com/tiacvote/poll-ceremony-backend/interfaces"
	"github.com/tiacvote/poll-ceremony-backend/polls"
)

// maxUploadBytes bounds a participant CSV upload.
const maxUploadBytes = 16 << 20

type principalKey struct{}

func principalID(ctx context.Context) int64 {
	id, _ := ctx.Value(principalKey{}).(int64)
	return id
}

// Handler processes HTTP requests for polls and the key ceremony.
type Handler struct {
	manager      *polls.Manager
	orchestrator *ceremony.Orchestrator
	auth         *auth.Service
	log          *slog.Logger
}

// NewHandler creates a new poll request handler.
func NewHandler(manager *polls.Manager, orchestrator *ceremony.Orchestrator, authService *auth.Service, log *slog.Logger) *Handler {
	return &Handler{
		manager:      manager,
		orchestrator: orchestrator,
		auth:         authService,
		log:          log,
	}
}

func (h *Handler) RegisterRoutes(r chi.Router) {
	r.Route("/api/admin/polls", func(r chi.Router) {
		r.Use(h.requireRole(interfaces.RoleAdmin))
		r.Post("/", h.HandleCreatePoll)
		r.Get("/", h.HandleListPolls)
		r.Get("/{poll_id}", h.HandlePollDetails)
		r.Get("/{poll_id}/participants", h.HandleListParticipants)
		r.Post("/{poll_id}/participants", h.HandleEnrollParticipants)
		r.Post("/{poll_id}/setup", h.HandleTriggerSetup)
		r.Post("/{poll_id}/keygen", h.HandleTriggerKeyGen)
	})

	r.With(h.requireRole(interfaces.RoleVoter)).
		Get("/api/voter/polls", h.HandleVoterPolls)

	r.Route("/api/authority", func(r chi.Router) {
		r.Use(h.requireRole(interfaces.RoleAuthority))
		r.Get("/polls", h.HandleAuthorityPolls)
		r.Get("/keys/{poll_id}", h.HandleAuthorityKeys)
	})

	// Public parameter and key reads need no session.
	r.Get("/api/polls/{poll_id}/setup", h.HandlePublicSetup)
	r.Get("/api/polls/{poll_id}/mvk", h.HandlePublicMvk)
}

// requireRole verifies the bearer token for one pool and stashes the
// principal id on the request context.
func (h *Handler) requireRole(role interfaces.Role) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			token, err := api.BearerToken(r)
			if err != nil {
				api.WriteError(w, err)
				return
			}
			id, err := h.auth.VerifyToken(token, role)
			if err != nil {
				api.WriteError(w, err)
				return
			}
			next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), principalKey{}, id)))
		})
	}
}

func decodeJSON(r *http.Request, into any) error {
	if err := json.NewDecoder(r.Body).Decode(into); err != nil {
		return errors.New("malformed request body")
	}
	return nil
}

func pollIDParam(r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(chi.URLParam(r, "poll_id"), 10, 64)
	return id, err == nil && id > 0
}

type createPollRequest struct {
	Title       string `json:"title"`
	Description string `json:"description"`
}

// HandleCreatePoll creates a draft poll owned by the calling admin.
//
// URL format: POST /api/admin/polls
func (h *Handler) HandleCreatePoll(w http.ResponseWriter, r *http.Request) {
	var req createPollRequest
	if err := decodeJSON(r, &req); err != nil {
		api.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	poll, err := h.manager.Create(r.Context(), req.Title, req.Description, principalID(r.Context()))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusCreated, poll)
}

// HandleListPolls returns all polls with roster sizes and ceremony flags.
//
// URL format: GET /api/admin/polls
func (h *Handler) HandleListPolls(w http.ResponseWriter, r *http.Request) {
	summaries, err := h.manager.List(r.Context())
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, summaries)
}

// HandlePollDetails returns one poll's admin view.
//
// URL format: GET /api/admin/polls/{poll_id}
func (h *Handler) HandlePollDetails(w http.ResponseWriter, r *http.Request) {
	pollID, ok := pollIDParam(r)
	if !ok {
		api.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid poll id"})
		return
	}

	details, err := h.manager.Details(r.Context(), pollID)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, details)
}

// HandleListParticipants returns the voter and authority rosters.
//
// URL format: GET /api/admin/polls/{poll_id}/participants
func (h *Handler) HandleListParticipants(w http.ResponseWriter, r *http.Request) {
	pollID, ok := pollIDParam(r)
	if !ok {
		api.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid poll id"})
		return
	}

	voters, authorities, err := h.manager.Participants(r.Context(), pollID)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, map[string]any{
		"voters":      voters,
		"authorities": authorities,
	})
}

// HandleEnrollParticipants enrolls voters and authorities from multipart
// CSV uploads. Form fields "voters_file" and "authorities_file" are both
// optional; rows are "tc,email,phone" for voters and "tc,email,phone,name"
// for authorities, no header. Malformed rows are skipped and counted.
//
// URL format: POST /api/admin/polls/{poll_id}/participants
func (h *Handler) HandleEnrollParticipants(w http.ResponseWriter, r *http.Request) {
	pollID, ok := pollIDParam(r)
	if !ok {
		api.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid poll id"})
		return
	}

	if err := r.ParseMultipartForm(maxUploadBytes); err != nil {
		api.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "expected multipart form"})
		return
	}

	votersCSV := formFileOrNil(r, "voters_file")
	if votersCSV != nil {
		defer votersCSV.Close()
	}
	authoritiesCSV := formFileOrNil(r, "authorities_file")
	if authoritiesCSV != nil {
		defer authoritiesCSV.Close()
	}
	if votersCSV == nil && authoritiesCSV == nil {
		api.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "no participant file provided"})
		return
	}

	result, err := h.manager.EnrollFromCSV(r.Context(), pollID, readerOrNil(votersCSV), readerOrNil(authoritiesCSV))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, result)
}

func formFileOrNil(r *http.Request, field string) multipart.File {
	file, _, err := r.FormFile(field)
	if err != nil {
		return nil
	}
	return file
}

// readerOrNil converts a possibly nil multipart.File into a plain reader
// without wrapping a typed nil in a non-nil interface.
func readerOrNil(f multipart.File) io.Reader {
	if f == nil {
		return nil
	}
	return f
}

// HandleTriggerSetup runs the Setup ceremony step.
//
// URL format: POST /api/admin/polls/{poll_id}/setup
func (h *Handler) HandleTriggerSetup(w http.ResponseWriter, r *http.Request) {
	pollID, ok := pollIDParam(r)
	if !ok {
		api.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid poll id"})
		return
	}

	setup, err := h.orchestrator.RunSetup(r.Context(), pollID, principalID(r.Context()))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, setup)
}

// HandleTriggerKeyGen runs the KeyGen ceremony step and activates the poll.
//
// URL format: POST /api/admin/polls/{poll_id}/keygen
func (h *Handler) HandleTriggerKeyGen(w http.ResponseWriter, r *http.Request) {
	pollID, ok := pollIDParam(r)
	if !ok {
		api.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid poll id"})
		return
	}

	mvk, err := h.orchestrator.RunKeyGen(r.Context(), pollID, principalID(r.Context()))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, mvk)
}

// HandleVoterPolls returns the calling voter's active polls.
//
// URL format: GET /api/voter/polls
func (h *Handler) HandleVoterPolls(w http.ResponseWriter, r *http.Request) {
	views, err := h.manager.VoterPolls(r.Context(), principalID(r.Context()))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, views)
}

// HandleAuthorityPolls returns the calling authority's polls.
//
// URL format: GET /api/authority/polls
func (h *Handler) HandleAuthorityPolls(w http.ResponseWriter, r *http.Request) {
	views, err := h.manager.AuthorityPolls(r.Context(), principalID(r.Context()))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, views)
}

// HandleAuthorityKeys returns the calling authority's own key material for
// a poll. The roster row is addressed by the session's principal id, so a
// cross-authority read is impossible by construction.
//
// URL format: GET /api/authority/keys/{poll_id}
func (h *Handler) HandleAuthorityKeys(w http.ResponseWriter, r *http.Request) {
	pollID, ok := pollIDParam(r)
	if !ok {
		api.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid poll id"})
		return
	}

	keys, err := h.manager.AuthorityKeysFor(r.Context(), pollID, principalID(r.Context()))
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, keys)
}

// HandlePublicSetup returns the public Setup parameters of a poll.
//
// URL format: GET /api/polls/{poll_id}/setup
func (h *Handler) HandlePublicSetup(w http.ResponseWriter, r *http.Request) {
	pollID, ok := pollIDParam(r)
	if !ok {
		api.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid poll id"})
		return
	}

	setup, err := h.manager.Setup(r.Context(), pollID)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, setup)
}

// HandlePublicMvk returns the public master verification key of a poll.
//
// URL format: GET /api/polls/{poll_id}/mvk
func (h *Handler) HandlePublicMvk(w http.ResponseWriter, r *http.Request) {
	pollID, ok := pollIDParam(r)
	if !ok {
		api.WriteJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid poll id"})
		return
	}

	mvk, err := h.manager.Mvk(r.Context(), pollID)
	if err != nil {
		api.WriteError(w, err)
		return
	}
	api.WriteJSON(w, http.StatusOK, mvk)
}
