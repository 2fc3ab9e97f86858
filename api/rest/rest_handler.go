package rest

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"
	"strings"

	"github.com/zlnvch/webnotes/logger/slogx"
	"github.com/zlnvch/webnotes/models"
	"github.com/zlnvch/webnotes/service"
)

type Handler struct {
	Service *service.Service
}

func NewHandler(svc *service.Service) *Handler {
	return &Handler{Service: svc}
}

type loginRequest struct {
	Provider string `json:"provider"`
	Code     string `json:"code"`
}

type loginResponse struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Id       string `json:"id"`
	Provider string `json:"provider"`
	Token    string `json:"token"`
}

func (h *Handler) HandleLogin(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	var req loginRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	user, token, err := h.Service.Login(r.Context(), req.Provider, req.Code)
	if err != nil {
		h.writeError(w, r, "login failed", err)
		return
	}

	resp := loginResponse{
		Username: user.Username,
		Email:    user.Email,
		Id:       user.Id,
		Provider: user.Provider,
		Token:    token,
	}
	h.sendResponse(w, resp)
}

type getUserResponse struct {
	Username string `json:"username"`
	Email    string `json:"email,omitempty"`
	Id       string `json:"id"`
	Provider string `json:"provider"`
}

func (h *Handler) HandleMe(w http.ResponseWriter, r *http.Request) {
	token := h.getTokenFromAuthHeader(r)
	switch r.Method {
	case http.MethodGet:
		h.handleGetUser(w, r, token)

	case http.MethodDelete:
		h.handleDeleteUser(w, r, token)

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) handleGetUser(w http.ResponseWriter, r *http.Request, token string) {
	user, err := h.Service.AuthenticateToken(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	resp := getUserResponse{
		Username: user.Username,
		Email:    user.Email,
		Id:       user.Id,
		Provider: user.Provider,
	}
	h.sendResponse(w, resp)
}

type successResponse struct {
	Success bool `json:"success"`
}

func (h *Handler) handleDeleteUser(w http.ResponseWriter, r *http.Request, token string) {
	user, err := h.Service.AuthenticateToken(r.Context(), token)
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return
	}

	if err := h.Service.DeleteUser(r.Context(), user); err != nil {
		h.writeError(w, r, "failed to delete user", err)
		return
	}

	h.sendResponse(w, successResponse{Success: true})
}

type noteRequest struct {
	Title    *string `json:"title"`
	Content  *string `json:"content"`
	IsPublic *bool   `json:"isPublic"`
}

type createNoteResponse struct {
	Id string `json:"id"`
}

// HandleNotes lists the caller's own notes or creates a new one.
func (h *Handler) HandleNotes(w http.ResponseWriter, r *http.Request) {
	requesterId, ok := h.requester(w, r)
	if !ok {
		return
	}

	switch r.Method {
	case http.MethodGet:
		notes, err := h.Service.ListOwnedNotes(r.Context(), requesterId)
		if err != nil {
			h.writeError(w, r, "failed to list notes", err)
			return
		}
		h.sendResponse(w, notes)

	case http.MethodPost:
		var req noteRequest
		if !h.decodeBody(w, r, &req) {
			return
		}

		params := service.CreateNoteParams{Content: req.Content, IsPublic: req.IsPublic}
		if req.Title != nil {
			params.Title = *req.Title
		}

		id, err := h.Service.CreateNote(r.Context(), requesterId, params)
		if err != nil {
			h.writeError(w, r, "failed to create note", err)
			return
		}

		h.sendResponseStatus(w, r, http.StatusCreated, createNoteResponse{Id: id})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

func (h *Handler) HandleSharedNotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requesterId, ok := h.requester(w, r)
	if !ok {
		return
	}

	notes, err := h.Service.ListSharedNotes(r.Context(), requesterId)
	if err != nil {
		h.writeError(w, r, "failed to list shared notes", err)
		return
	}
	h.sendResponse(w, notes)
}

func (h *Handler) HandlePublicNotes(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	limit := service.DefaultPublicLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			http.Error(w, "invalid limit", http.StatusBadRequest)
			return
		}
		limit = parsed
	}

	notes, err := h.Service.ListPublicNotes(r.Context(), limit)
	if err != nil {
		h.writeError(w, r, "failed to list public notes", err)
		return
	}
	h.sendResponse(w, notes)
}

func (h *Handler) HandleSearch(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requesterId, ok := h.requester(w, r)
	if !ok {
		return
	}

	notes, err := h.Service.SearchNotes(r.Context(), requesterId, r.URL.Query().Get("q"))
	if err != nil {
		h.writeError(w, r, "search failed", err)
		return
	}
	h.sendResponse(w, notes)
}

// HandleNote reads, edits or deletes a single note addressed by the {id} path value.
func (h *Handler) HandleNote(w http.ResponseWriter, r *http.Request) {
	requesterId, ok := h.requester(w, r)
	if !ok {
		return
	}
	noteId := r.PathValue("id")

	switch r.Method {
	case http.MethodGet:
		note, err := h.Service.GetNote(r.Context(), requesterId, noteId)
		if err != nil {
			h.writeError(w, r, "failed to get note", err)
			return
		}
		if note == nil {
			http.Error(w, "note not found", http.StatusNotFound)
			return
		}
		h.sendResponse(w, note)

	case http.MethodPatch:
		var req noteRequest
		if !h.decodeBody(w, r, &req) {
			return
		}

		err := h.Service.UpdateNote(r.Context(), requesterId, noteId, service.UpdateNoteParams{
			Title:    req.Title,
			Content:  req.Content,
			IsPublic: req.IsPublic,
		})
		if err != nil {
			h.writeError(w, r, "failed to update note", err)
			return
		}
		h.sendResponse(w, successResponse{Success: true})

	case http.MethodDelete:
		if err := h.Service.DeleteNote(r.Context(), requesterId, noteId); err != nil {
			h.writeError(w, r, "failed to delete note", err)
			return
		}
		h.sendResponse(w, successResponse{Success: true})

	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}

type shareRequest struct {
	Email      string            `json:"email"`
	Permission models.Permission `json:"permission"`
}

func (h *Handler) HandleShares(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}

	requesterId, ok := h.requester(w, r)
	if !ok {
		return
	}

	var req shareRequest
	if !h.decodeBody(w, r, &req) {
		return
	}

	if err := h.Service.ShareNote(r.Context(), requesterId, r.PathValue("id"), req.Email, req.Permission); err != nil {
		h.writeError(w, r, "failed to share note", err)
		return
	}
	h.sendResponse(w, successResponse{Success: true})
}

// requester resolves the caller. No token is an anonymous caller; a bad token
// is rejected so a stale session is not silently downgraded.
func (h *Handler) requester(w http.ResponseWriter, r *http.Request) (string, bool) {
	requesterId, err := h.Service.RequesterFromToken(r.Context(), h.getTokenFromAuthHeader(r))
	if err != nil {
		http.Error(w, "invalid token", http.StatusUnauthorized)
		return "", false
	}
	return requesterId, true
}

func (h *Handler) writeError(w http.ResponseWriter, r *http.Request, msg string, err error) {
	switch {
	case errors.Is(err, service.ErrAuthentication):
		http.Error(w, err.Error(), http.StatusUnauthorized)
	case errors.Is(err, service.ErrAuthorization):
		http.Error(w, err.Error(), http.StatusForbidden)
	case errors.Is(err, service.ErrNotFound):
		http.Error(w, err.Error(), http.StatusNotFound)
	case errors.Is(err, service.ErrValidation):
		http.Error(w, err.Error(), http.StatusBadRequest)
	default:
		slogx.Error(r.Context(), msg, slogx.Err(err))
		http.Error(w, msg, http.StatusInternalServerError)
	}
}

// Bodies carry at most one note; content is capped at 100 000 runes
const maxBodyBytes = 1 << 20

// decodeBody reads a JSON request body into v, replying with an error status
// when it cannot
func (h *Handler) decodeBody(w http.ResponseWriter, r *http.Request, v any) bool {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
	if err := json.NewDecoder(r.Body).Decode(v); err != nil {
		var maxBytesErr *http.MaxBytesError
		if errors.As(err, &maxBytesErr) {
			http.Error(w, "request body too large", http.StatusRequestEntityTooLarge)
			return false
		}
		http.Error(w, "invalid request body", http.StatusBadRequest)
		return false
	}
	return true
}

// sendResponseStatus writes resp with a non-200 status. The status is already
// sent when encoding fails, so the failure is only logged.
func (h *Handler) sendResponseStatus(w http.ResponseWriter, r *http.Request, status int, resp any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		slogx.Error(r.Context(), "failed to encode response", slogx.Err(err))
	}
}

func (h *Handler) sendResponse(w http.ResponseWriter, resp any) {
	w.Header().Set("Content-Type", "application/json")
	if err := json.NewEncoder(w).Encode(resp); err != nil {
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
	}
}

func (h *Handler) getTokenFromAuthHeader(r *http.Request) string {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return ""
	}
	const prefix = "Bearer "
	if !strings.HasPrefix(authHeader, prefix) {
		return ""
	}
	return strings.TrimPrefix(authHeader, prefix)
}

func (h *Handler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("/login", h.HandleLogin)
	mux.HandleFunc("/me", h.HandleMe)
	mux.HandleFunc("/notes", h.HandleNotes)
	mux.HandleFunc("/notes/shared", h.HandleSharedNotes)
	mux.HandleFunc("/notes/public", h.HandlePublicNotes)
	mux.HandleFunc("/notes/search", h.HandleSearch)
	mux.HandleFunc("/notes/{id}", h.HandleNote)
	mux.HandleFunc("/notes/{id}/shares", h.HandleShares)
}
