package httpserver

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	hpprof "net/http/pprof"
	"strings"

	"empathai/internal/permission"
	logx "empathai/pkg/logx"
)

// Settings is the notification preference backend.
type Settings interface {
	Status() permission.Status
	SetEnabled(ctx context.Context, on bool) error
	Reset(ctx context.Context) error
}

// Routes are the handlers mounted by the server. Nil entries are not
// mounted.
type Routes struct {
	Push     http.Handler
	Clients  http.Handler
	Support  http.Handler
	Settings Settings
	Status   func(ctx context.Context) any
}

type settingsBody struct {
	Enabled *bool `json:"enabled"`
}

type settingsView struct {
	Enabled        bool   `json:"enabled"`
	Permission     string `json:"permission"`
	ListenerActive bool   `json:"listener_active"`
}

// Handler returns the mux for the current config.
func (s *Service) Handler() http.Handler {
	s.mu.Lock()
	cur := s.cfg
	s.mu.Unlock()
	return s.handler(cur)
}

func (s *Service) handler(cfg Config) http.Handler {
	mux := http.NewServeMux()
	auth := func(h http.Handler) http.Handler { return withAuth(cfg.Token, h) }
	rt := s.routes

	mux.Handle("GET /healthz", auth(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		_, _ = w.Write([]byte("ok"))
	})))
	if rt.Push != nil {
		mux.Handle("/api/notifications", auth(rt.Push))
	}
	if rt.Clients != nil {
		mux.Handle("GET /ws", auth(rt.Clients))
	}
	if rt.Support != nil {
		mux.Handle("/api/trigger-support", auth(rt.Support))
	}
	if rt.Settings != nil {
		mux.Handle("GET /api/settings/notifications", auth(http.HandlerFunc(s.getSettings)))
		mux.Handle("PUT /api/settings/notifications", auth(http.HandlerFunc(s.putSettings)))
		mux.Handle("POST /api/settings/notifications/reset", auth(http.HandlerFunc(s.resetSettings)))
	}
	if rt.Status != nil {
		mux.Handle("GET /api/status", auth(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			writeJSON(w, http.StatusOK, rt.Status(r.Context()))
		})))
	}
	if cfg.Pprof {
		mux.Handle("/debug/pprof/", auth(http.HandlerFunc(hpprof.Index)))
		mux.Handle("/debug/pprof/cmdline", auth(http.HandlerFunc(hpprof.Cmdline)))
		mux.Handle("/debug/pprof/profile", auth(http.HandlerFunc(hpprof.Profile)))
		mux.Handle("/debug/pprof/symbol", auth(http.HandlerFunc(hpprof.Symbol)))
		mux.Handle("/debug/pprof/trace", auth(http.HandlerFunc(hpprof.Trace)))
	}
	return mux
}

func (s *Service) settingsView() settingsView {
	st := s.routes.Settings.Status()
	return settingsView{Enabled: st.Enabled, Permission: st.State.String(), ListenerActive: st.ListenerActive}
}

func (s *Service) getSettings(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.settingsView())
}

func (s *Service) putSettings(w http.ResponseWriter, r *http.Request) {
	var body settingsBody
	if err := json.NewDecoder(io.LimitReader(r.Body, 4<<10)).Decode(&body); err != nil || body.Enabled == nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": `expected {"enabled": bool}`})
		return
	}
	if err := s.routes.Settings.SetEnabled(r.Context(), *body.Enabled); err != nil {
		s.log.Warn("preference update failed", logx.Err(err))
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.settingsView())
}

func (s *Service) resetSettings(w http.ResponseWriter, r *http.Request) {
	if err := s.routes.Settings.Reset(r.Context()); err != nil {
		writeJSON(w, statusFor(err), map[string]string{"error": err.Error()})
		return
	}
	writeJSON(w, http.StatusOK, s.settingsView())
}

func statusFor(err error) int {
	if errors.Is(err, permission.ErrDisabled) {
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

// withAuth accepts "Authorization: Bearer <token>" or ?token=. Browsers
// cannot set headers on WebSocket upgrades, hence the query form.
func withAuth(token string, h http.Handler) http.Handler {
	tok := strings.TrimSpace(token)
	if tok == "" {
		return h
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if got := r.URL.Query().Get("token"); got != "" {
			if got == tok {
				h.ServeHTTP(w, r)
				return
			}
			unauthorized(w)
			return
		}
		const p = "Bearer "
		if ah := r.Header.Get("Authorization"); strings.HasPrefix(ah, p) && strings.TrimSpace(ah[len(p):]) == tok {
			h.ServeHTTP(w, r)
			return
		}
		unauthorized(w)
	})
}

func unauthorized(w http.ResponseWriter) {
	w.Header().Set("WWW-Authenticate", "Bearer")
	http.Error(w, "unauthorized", http.StatusUnauthorized)
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
