package app

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"slices"
	"strconv"
	"time"

	"polycopy/config"
	"polycopy/internal/copytrade"
	"polycopy/internal/storage"

	"go.uber.org/zap"
)

const defaultHistoryLimit = 20

// APIHandler serves the user and session control API.
type APIHandler struct {
	logger   *zap.Logger
	users    storage.UserStore
	history  storage.SessionStore
	sessions *SessionManager
	auth     *TokenAuth
}

func NewAPIHandler(logger *zap.Logger, users storage.UserStore, history storage.SessionStore, sessions *SessionManager, auth *TokenAuth) *APIHandler {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &APIHandler{
		logger:   logger.Named("api"),
		users:    users,
		history:  history,
		sessions: sessions,
		auth:     auth,
	}
}

func (h *APIHandler) RegisterRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/users", h.auth.Require(h.listUsers))
	mux.HandleFunc("GET /api/users/{id}", h.auth.Require(h.getUser))
	mux.HandleFunc("PUT /api/users/{id}", h.auth.Require(h.putUser))
	mux.HandleFunc("DELETE /api/users/{id}", h.auth.Require(h.deleteUser))
	mux.HandleFunc("POST /api/users/{id}/wallets", h.auth.Require(h.addWallet))
	mux.HandleFunc("DELETE /api/users/{id}/wallets/{address}", h.auth.Require(h.removeWallet))
	mux.HandleFunc("GET /api/users/{id}/sessions", h.auth.Require(h.userHistory))
	mux.HandleFunc("GET /api/users/{id}/session", h.auth.Require(h.userSession))

	mux.HandleFunc("GET /api/sessions", h.auth.Require(h.listSessions))
	mux.HandleFunc("POST /api/sessions", h.auth.Require(h.startSession))
	mux.HandleFunc("GET /api/sessions/{id}", h.auth.Require(h.getSession))
	mux.HandleFunc("DELETE /api/sessions/{id}", h.auth.Require(h.stopSession))
}

// userView is the public form of a user. Secrets are reduced to flags.
type userView struct {
	*storage.User
	CanTrade   bool `json:"can_trade"`
	APIEnabled bool `json:"api_enabled"`
}

func viewOf(u *storage.User) userView {
	return userView{User: u, CanTrade: u.CanTrade(), APIEnabled: u.APIEnabled()}
}

// userUpdate is the body of PUT /api/users/{id}. Nil fields are left as is.
type userUpdate struct {
	Address        *string  `json:"address"`
	TrackAddresses []string `json:"track_addresses"`
	PrivateKey     *string  `json:"private_key"`
	APIKey         *string  `json:"api_key"`
	APISecret      *string  `json:"api_secret"`
	APIPassphrase  *string  `json:"api_passphrase"`
}

func (h *APIHandler) listUsers(w http.ResponseWriter, r *http.Request) {
	users, err := h.users.List(r.Context())
	if err != nil {
		h.fail(w, "list users", err)
		return
	}
	out := make([]userView, 0, len(users))
	for _, u := range users {
		out = append(out, viewOf(u))
	}
	writeJSON(w, http.StatusOK, out)
}

func (h *APIHandler) getUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUserID(w, r)
	if !ok {
		return
	}
	u, err := h.users.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(u))
}

func (h *APIHandler) putUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUserID(w, r)
	if !ok {
		return
	}

	var req userUpdate
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}

	u, err := h.users.Get(r.Context(), id)
	status := http.StatusOK
	switch {
	case errors.Is(err, storage.ErrNotFound):
		u = &storage.User{TelegramID: id}
		status = http.StatusCreated
	case err != nil:
		h.fail(w, "get user", err)
		return
	}

	if req.Address != nil {
		addr := config.NormalizeWallet(*req.Address)
		if addr != "" && !isWallet(addr) {
			writeError(w, http.StatusBadRequest, "address is not a wallet address")
			return
		}
		u.Address = addr
	}
	if req.TrackAddresses != nil {
		tracked := make([]string, 0, len(req.TrackAddresses))
		for _, raw := range req.TrackAddresses {
			addr := config.NormalizeWallet(raw)
			if !isWallet(addr) {
				writeError(w, http.StatusBadRequest, "track address "+strconv.Quote(raw)+" is not a wallet address")
				return
			}
			if !slices.Contains(tracked, addr) {
				tracked = append(tracked, addr)
			}
		}
		u.TrackAddresses = tracked
	}
	if req.PrivateKey != nil {
		u.PrivateKey = *req.PrivateKey
	}
	if req.APIKey != nil {
		u.APIKey = *req.APIKey
	}
	if req.APISecret != nil {
		u.APISecret = *req.APISecret
	}
	if req.APIPassphrase != nil {
		u.APIPassphrase = *req.APIPassphrase
	}

	if err := h.users.Upsert(r.Context(), u); err != nil {
		h.fail(w, "upsert user", err)
		return
	}
	saved, err := h.users.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	h.logger.Info("user saved", zap.Int64("user", id), zap.Bool("created", status == http.StatusCreated))
	writeJSON(w, status, viewOf(saved))
}

func (h *APIHandler) deleteUser(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUserID(w, r)
	if !ok {
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	if err := h.sessions.Stop(ctx, id); err != nil && !errors.Is(err, ErrNoSession) {
		h.fail(w, "stop session", err)
		return
	}

	if err := h.users.Delete(r.Context(), id); err != nil {
		h.fail(w, "delete user", err)
		return
	}
	h.logger.Info("user deleted", zap.Int64("user", id))
	w.WriteHeader(http.StatusNoContent)
}

func (h *APIHandler) addWallet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUserID(w, r)
	if !ok {
		return
	}
	var req struct {
		Address string `json:"address"`
	}
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	addr := config.NormalizeWallet(req.Address)
	if !isWallet(addr) {
		writeError(w, http.StatusBadRequest, "address is not a wallet address")
		return
	}
	if err := h.users.AddTrackWallet(r.Context(), id, addr); err != nil {
		h.fail(w, "add track wallet", err)
		return
	}
	u, err := h.users.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(u))
}

func (h *APIHandler) removeWallet(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUserID(w, r)
	if !ok {
		return
	}
	addr := config.NormalizeWallet(r.PathValue("address"))
	if err := h.users.RemoveTrackWallet(r.Context(), id, addr); err != nil {
		h.fail(w, "remove track wallet", err)
		return
	}
	u, err := h.users.Get(r.Context(), id)
	if err != nil {
		h.fail(w, "get user", err)
		return
	}
	writeJSON(w, http.StatusOK, viewOf(u))
}

func (h *APIHandler) userHistory(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUserID(w, r)
	if !ok {
		return
	}
	limit := defaultHistoryLimit
	if s := r.URL.Query().Get("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil || n < 0 {
			writeError(w, http.StatusBadRequest, "limit must be a non-negative integer")
			return
		}
		limit = n
	}
	records, err := h.history.ListByUser(r.Context(), id, limit)
	if err != nil {
		h.fail(w, "list sessions", err)
		return
	}
	if records == nil {
		records = []*storage.SessionRecord{}
	}
	writeJSON(w, http.StatusOK, records)
}

func (h *APIHandler) userSession(w http.ResponseWriter, r *http.Request) {
	id, ok := pathUserID(w, r)
	if !ok {
		return
	}
	info, ok := h.sessions.Get(id)
	if !ok {
		writeError(w, http.StatusNotFound, ErrNoSession.Error())
		return
	}
	writeJSON(w, http.StatusOK, info)
}

func (h *APIHandler) listSessions(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, h.sessions.List())
}

func (h *APIHandler) startSession(w http.ResponseWriter, r *http.Request) {
	var req StartRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON: "+err.Error())
		return
	}
	if req.UserID == 0 {
		writeError(w, http.StatusBadRequest, "user_id is required")
		return
	}

	info, err := h.sessions.Start(r.Context(), req)
	if err != nil {
		h.fail(w, "start session", err)
		return
	}
	writeJSON(w, http.StatusCreated, info)
}

// sessionResponse is either a running session or a finished record.
type sessionResponse struct {
	Active  bool                   `json:"active"`
	Session *SessionInfo           `json:"session,omitempty"`
	Record  *storage.SessionRecord `json:"record,omitempty"`
}

func (h *APIHandler) getSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")
	if info, ok := h.sessions.GetByID(id); ok {
		writeJSON(w, http.StatusOK, sessionResponse{Active: true, Session: &info})
		return
	}
	rec, err := h.history.GetByID(r.Context(), id)
	if err != nil {
		h.fail(w, "get session", err)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Record: rec})
}

func (h *APIHandler) stopSession(w http.ResponseWriter, r *http.Request) {
	id := r.PathValue("id")

	ctx, cancel := context.WithTimeout(r.Context(), 15*time.Second)
	defer cancel()
	if err := h.sessions.StopByID(ctx, id); err != nil {
		h.fail(w, "stop session", err)
		return
	}

	rec, err := h.history.GetByID(r.Context(), id)
	if err != nil {
		h.logger.Warn("stopped session has no record", zap.String("session", id), zap.Error(err))
		w.WriteHeader(http.StatusNoContent)
		return
	}
	writeJSON(w, http.StatusOK, sessionResponse{Record: rec})
}

func (h *APIHandler) fail(w http.ResponseWriter, op string, err error) {
	status := statusFor(err)
	if status >= http.StatusInternalServerError {
		h.logger.Error(op+" failed", zap.Error(err))
	}
	writeError(w, status, err.Error())
}

// statusFor maps domain errors to HTTP status codes.
func statusFor(err error) int {
	var settingsErr *copytrade.SettingsError
	switch {
	case errors.Is(err, storage.ErrNotFound), errors.Is(err, ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, storage.ErrInvalidInput), errors.Is(err, ErrNoTrader), errors.As(err, &settingsErr):
		return http.StatusBadRequest
	case errors.Is(err, ErrAlreadyActive), errors.Is(err, storage.ErrDuplicateKey):
		return http.StatusConflict
	case errors.Is(err, ErrShuttingDown):
		return http.StatusServiceUnavailable
	case errors.Is(err, context.DeadlineExceeded):
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}

func pathUserID(w http.ResponseWriter, r *http.Request) (int64, bool) {
	id, err := strconv.ParseInt(r.PathValue("id"), 10, 64)
	if err != nil || id == 0 {
		writeError(w, http.StatusBadRequest, "user id must be a non-zero integer")
		return 0, false
	}
	return id, true
}
