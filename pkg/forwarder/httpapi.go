// Copyright 2025-2026 Aiku AI

package forwarder

import (
	"encoding/json"
	"errors"
	"net/http"
	"sort"
	"strings"

	"github.com/rs/cors"
	"github.com/rs/zerolog"
)

// maxRequestBodySize bounds API request bodies (1 MB).
const maxRequestBodySize = 1 << 20

// API is the JSON façade over the core. It owns no state of its own;
// every operation goes through the store and the session manager.
type API struct {
	store    *Store
	sessions *SessionManager
	log      zerolog.Logger
}

// NewAPI creates the HTTP façade.
func NewAPI(store *Store, sessions *SessionManager, log zerolog.Logger) *API {
	return &API{
		store:    store,
		sessions: sessions,
		log:      log.With().Str("component", "http_api").Logger(),
	}
}

// Handler returns the routed handler with permissive CORS, matching the
// browser dashboard the API serves.
func (a *API) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/send-code", a.handleSendCode)
	mux.HandleFunc("/verify-code", a.handleVerifyCode)
	mux.HandleFunc("/get-chats", a.handleGetChats)
	mux.HandleFunc("/set-link", a.handleSetLink)
	mux.HandleFunc("/get-links", a.handleGetLinks)
	mux.HandleFunc("/delete-link", a.handleDeleteLink)
	mux.HandleFunc("/ping", a.handlePing)
	return cors.AllowAll().Handler(mux)
}

// flexID accepts both JSON strings and numbers, since chat identifiers
// arrive as either depending on the client.
type flexID string

func (f *flexID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err == nil {
		*f = flexID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*f = flexID(n.String())
	return nil
}

type sendCodeRequest struct {
	Phone string `json:"phone"`
}

type verifyCodeRequest struct {
	Phone string `json:"phone"`
	Code  string `json:"code"`
}

type getChatsRequest struct {
	Phone string `json:"phone"`
}

type setLinkRequest struct {
	Phone         string `json:"phone"`
	SourceID      flexID `json:"source_id"`
	DestinationID flexID `json:"destination_id"`
}

type getLinksRequest struct {
	Phone string `json:"phone"`
}

type deleteLinkRequest struct {
	SourceID      flexID `json:"source_id"`
	DestinationID flexID `json:"destination_id"`
}

func (a *API) handleSendCode(w http.ResponseWriter, r *http.Request) {
	var req sendCodeRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Phone == "" {
		a.writeError(w, http.StatusBadRequest, "Phone number required")
		return
	}

	status, err := a.sessions.RequestCode(r.Context(), req.Phone)
	if err != nil {
		a.writeFailure(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]Status{"status": status})
}

func (a *API) handleVerifyCode(w http.ResponseWriter, r *http.Request) {
	var req verifyCodeRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Phone == "" || req.Code == "" {
		a.writeError(w, http.StatusBadRequest, "Phone and code required")
		return
	}

	status, err := a.sessions.Verify(r.Context(), req.Phone, req.Code)
	if err != nil {
		a.writeFailure(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]Status{"status": status})
}

func (a *API) handleGetChats(w http.ResponseWriter, r *http.Request) {
	var req getChatsRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Phone == "" {
		a.writeError(w, http.StatusBadRequest, "Phone number required")
		return
	}

	lock := a.sessions.LockFor(req.Phone)
	lock.Lock()
	defer lock.Unlock()

	conn, err := a.sessions.Acquire(r.Context(), req.Phone)
	if err != nil {
		a.writeFailure(w, err)
		return
	}

	chats, err := conn.ListChats(r.Context())
	if err != nil {
		a.writeFailure(w, err)
		return
	}

	// Drop unnamed chats and present the rest alphabetically.
	filtered := make([]ChatInfo, 0, len(chats))
	for _, chat := range chats {
		chat.Name = strings.TrimSpace(chat.Name)
		if chat.Name == "" {
			continue
		}
		filtered = append(filtered, chat)
	}
	sort.Slice(filtered, func(i, j int) bool {
		return strings.ToLower(filtered[i].Name) < strings.ToLower(filtered[j].Name)
	})

	a.writeJSON(w, http.StatusOK, filtered)
}

func (a *API) handleSetLink(w http.ResponseWriter, r *http.Request) {
	var req setLinkRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Phone == "" || req.SourceID == "" || req.DestinationID == "" {
		a.writeError(w, http.StatusBadRequest, "Missing required fields")
		return
	}

	lock := a.sessions.LockFor(req.Phone)
	lock.Lock()
	defer lock.Unlock()

	// Establishing the session first guarantees only an authorized
	// account can register links.
	if _, err := a.sessions.Acquire(r.Context(), req.Phone); err != nil {
		a.writeFailure(w, err)
		return
	}

	if err := a.store.Add(string(req.SourceID), string(req.DestinationID)); err != nil {
		a.writeFailure(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "Link applied successfully"})
}

func (a *API) handleGetLinks(w http.ResponseWriter, r *http.Request) {
	var req getLinksRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.Phone == "" {
		a.writeError(w, http.StatusBadRequest, "Phone required")
		return
	}

	lock := a.sessions.LockFor(req.Phone)
	lock.Lock()
	defer lock.Unlock()

	conn, err := a.sessions.Acquire(r.Context(), req.Phone)
	if err != nil {
		a.writeFailure(w, err)
		return
	}

	a.writeJSON(w, http.StatusOK, a.store.List(r.Context(), conn))
}

func (a *API) handleDeleteLink(w http.ResponseWriter, r *http.Request) {
	var req deleteLinkRequest
	if !a.decode(w, r, &req) {
		return
	}
	if req.SourceID == "" || req.DestinationID == "" {
		a.writeError(w, http.StatusBadRequest, "Missing source or destination ID")
		return
	}

	if err := a.store.Remove(string(req.SourceID), string(req.DestinationID)); err != nil {
		a.writeFailure(w, err)
		return
	}
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "Link removed"})
}

func (a *API) handlePing(w http.ResponseWriter, r *http.Request) {
	a.writeJSON(w, http.StatusOK, map[string]string{"status": "Server is running"})
}

// decode parses a POST JSON body into dst, writing the error response
// itself when the request is unusable.
func (a *API) decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if r.Method != http.MethodPost {
		a.writeError(w, http.StatusMethodNotAllowed, "method not allowed")
		return false
	}
	r.Body = http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	defer r.Body.Close()

	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		a.writeError(w, http.StatusBadRequest, "invalid JSON")
		return false
	}
	return true
}

// writeFailure maps a core error to the structured error response. Only
// the error string ever crosses the boundary.
func (a *API) writeFailure(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, ErrUnauthorized):
		a.writeError(w, http.StatusUnauthorized, "Unauthorized")
	case errors.Is(err, ErrMissingChallenge):
		a.writeError(w, http.StatusBadRequest, "No phone_code_hash found. Request code again.")
	case errors.Is(err, ErrLinkNotFound):
		a.writeError(w, http.StatusNotFound, "Link not found")
	default:
		a.writeError(w, http.StatusInternalServerError, err.Error())
	}
}

func (a *API) writeError(w http.ResponseWriter, status int, msg string) {
	a.writeJSON(w, status, map[string]string{"error": msg})
}

func (a *API) writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		a.log.Warn().Err(err).Msg("Failed to write response")
	}
}
