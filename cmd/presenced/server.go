package main

import (
	"crypto/subtle"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/dreamware/presence/internal/api"
	"github.com/dreamware/presence/internal/presence"
	"github.com/dreamware/presence/internal/status"
)

// maxBodyBytes caps every request body.
const maxBodyBytes = 64 << 10

type server struct {
	store  *presence.Store
	facade *status.Facade
	token  string
}

func newServer(store *presence.Store, token string) *server {
	return &server{
		store:  store,
		facade: status.NewFacade(store),
		token:  token,
	}
}

func (s *server) routes() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("GET /status", s.handleStatus)
	mux.HandleFunc("GET /stats", s.handleStats)
	mux.HandleFunc("GET /health", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("POST /start", s.authorized(s.handleStart))
	mux.HandleFunc("POST /heartbeat", s.authorized(s.handleHeartbeat))
	mux.HandleFunc("POST /release", s.authorized(s.handleRelease))
	mux.HandleFunc("POST /host_status", s.authorized(s.handleHostStatus))
	mux.HandleFunc("POST /telescope_status", s.authorized(s.handleTelescopeStatus))
	return mux
}

// authorized enforces the bearer token on mutating endpoints. An empty
// configured token lets every request through.
func (s *server) authorized(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		if s.token != "" {
			got, ok := strings.CutPrefix(r.Header.Get("Authorization"), "Bearer ")
			if !ok || subtle.ConstantTimeCompare([]byte(strings.TrimSpace(got)), []byte(s.token)) != 1 {
				log.Warningf("rejected %s %s from %s: bad or missing token", r.Method, r.URL.Path, r.RemoteAddr)
				writeJSON(w, http.StatusUnauthorized, api.Response{Message: "unauthorized"})
				return
			}
		}
		r.Body = http.MaxBytesReader(w, r.Body, maxBodyBytes)
		next(w, r)
	}
}

func (s *server) handleStatus(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.facade.Current())
}

func (s *server) handleStats(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, s.store.Stats())
}

func (s *server) handleStart(w http.ResponseWriter, r *http.Request) {
	var req api.StartRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}

	_, err := s.store.StartSession(req.Presence())
	view := s.facade.Current()

	var conflict *presence.ConflictError
	switch {
	case errors.As(err, &conflict):
		since := conflict.Since
		writeJSON(w, http.StatusConflict, api.Response{
			Message:  err.Error(),
			Occupant: conflict.Occupant,
			Since:    &since,
			State:    &view,
		})
	case err != nil:
		writeError(w, statusCode(err), err)
	default:
		writeJSON(w, http.StatusOK, api.Response{OK: true, State: &view})
	}
}

func (s *server) handleHeartbeat(w http.ResponseWriter, r *http.Request) {
	var req api.HeartbeatRequest
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if _, err := s.store.Heartbeat(req.User); err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, api.Response{OK: true})
}

func (s *server) handleRelease(w http.ResponseWriter, r *http.Request) {
	// The body is optional and carries nothing.
	_, _ = io.Copy(io.Discard, r.Body)

	s.store.Release()
	view := s.facade.Current()
	writeJSON(w, http.StatusOK, api.Response{OK: true, State: &view})
}

func (s *server) handleHostStatus(w http.ResponseWriter, r *http.Request) {
	var req api.HostReport
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.ReportHost(req.Presence()); err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, api.Response{OK: true})
}

func (s *server) handleTelescopeStatus(w http.ResponseWriter, r *http.Request) {
	var req api.TelescopeReport
	if err := decodeJSON(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err)
		return
	}
	if err := s.store.ReportTelescope(req.Presence()); err != nil {
		writeError(w, statusCode(err), err)
		return
	}
	writeJSON(w, http.StatusOK, api.Response{OK: true})
}

// statusCode maps store errors onto HTTP status codes.
func statusCode(err error) int {
	switch {
	case errors.Is(err, presence.ErrInvalid):
		return http.StatusBadRequest
	case errors.Is(err, presence.ErrConflict):
		return http.StatusConflict
	case errors.Is(err, presence.ErrNoSession):
		return http.StatusNotFound
	case errors.Is(err, presence.ErrNotOccupant):
		return http.StatusConflict
	}
	return http.StatusInternalServerError
}

func decodeJSON(r *http.Request, out any) error {
	dec := json.NewDecoder(r.Body)
	if err := dec.Decode(out); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			return fmt.Errorf("request body exceeds %d bytes", tooLarge.Limit)
		}
		return fmt.Errorf("bad json: %w", err)
	}
	return nil
}

func writeError(w http.ResponseWriter, code int, err error) {
	writeJSON(w, code, api.Response{Message: err.Error()})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Debugf("write response: %v", err)
	}
}
