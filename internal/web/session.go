package web

import (
	"context"
	"fmt"
	"net/http"

	"github.com/vbonduro/tileinv/internal/app"
	"github.com/vbonduro/tileinv/internal/session"
)

const (
	sessionCookie = "tileinv_session"
	maxFormBytes  = 64 * 1024
)

// loadSession returns the caller's session id and state. An empty id means the
// browser has no live session yet.
func (s *Server) loadSession(r *http.Request) (string, app.State, error) {
	c, err := r.Cookie(sessionCookie)
	if err != nil || !session.ValidID(c.Value) {
		return "", app.State{}, nil
	}

	st, ok, err := s.sessions.Get(r.Context(), c.Value)
	if err != nil {
		return "", app.State{}, fmt.Errorf("failed to load session: %w", err)
	}
	if !ok {
		return "", app.State{}, nil
	}
	return c.Value, st, nil
}

// saveSession stores st under id, minting a new id when id is empty, and
// refreshes the cookie.
func (s *Server) saveSession(w http.ResponseWriter, r *http.Request, id string, st app.State) error {
	if id == "" {
		id = session.NewID()
	}
	if err := s.sessions.Save(r.Context(), id, st); err != nil {
		return fmt.Errorf("failed to save session: %w", err)
	}

	cookie := &http.Cookie{
		Name:     sessionCookie,
		Value:    id,
		Path:     "/",
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	}
	if s.opts.SessionTTL > 0 {
		cookie.MaxAge = int(s.opts.SessionTTL.Seconds())
	}
	http.SetCookie(w, cookie)
	return nil
}

func (s *Server) clearSessionCookie(w http.ResponseWriter) {
	http.SetCookie(w, &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   s.opts.SecureCookie,
		SameSite: http.SameSiteLaxMode,
	})
}

func (s *Server) sessionUnavailable(w http.ResponseWriter, err error) {
	s.logger.Error("session store error", "error", err)
	http.Error(w, "session unavailable", http.StatusServiceUnavailable)
}

// transition computes the next state for an authenticated session.
type transition func(ctx context.Context, r *http.Request, st app.State) app.State

// withSession runs next for an authenticated session while holding that
// session's in-flight slot, then persists the result and redirects home.
// The slot is taken before the state is read so load, reduce and save happen
// as one step. Unauthenticated callers are sent home untouched.
func (s *Server) withSession(w http.ResponseWriter, r *http.Request, next transition) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	c, err := r.Cookie(sessionCookie)
	if err != nil || !session.ValidID(c.Value) {
		redirectHome(w, r)
		return
	}

	release, ok := s.guard.TryAcquire(c.Value)
	if !ok {
		s.refuseBusy(w, r)
		return
	}
	defer release()

	id, st, err := s.loadSession(r)
	if err != nil {
		s.sessionUnavailable(w, err)
		return
	}
	if id == "" || !st.Authenticated {
		redirectHome(w, r)
		return
	}

	st = next(r.Context(), r, st)
	if err := s.saveSession(w, r, id, st); err != nil {
		s.sessionUnavailable(w, err)
		return
	}
	redirectHome(w, r)
}

// refuseBusy shows the current screen with the busy notice. Nothing is saved;
// the request holding the slot owns the next write. The status is 200 so
// boosted htmx forms swap the page in.
func (s *Server) refuseBusy(w http.ResponseWriter, r *http.Request) {
	_, st, err := s.loadSession(r)
	if err != nil {
		s.sessionUnavailable(w, err)
		return
	}
	if !st.Authenticated {
		redirectHome(w, r)
		return
	}
	s.logger.Warn("request refused while another is in flight", "path", r.URL.Path)
	s.renderScreen(w, http.StatusOK, app.Reduce(st, app.Busy{}))
}

// refresh reloads the tile cache. A failed read keeps the stale cache.
func (s *Server) refresh(ctx context.Context, st app.State) app.State {
	tiles, err := s.inventory.Refresh(ctx)
	if err != nil {
		return app.Reduce(st, app.RefreshFailed{})
	}
	return app.Reduce(st, app.TilesRefreshed{Tiles: tiles})
}
