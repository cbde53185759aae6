package web

import (
	"context"
	"net/http"

	"github.com/vbonduro/tileinv/internal/app"
)

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	_, st, err := s.loadSession(r)
	if err != nil {
		s.sessionUnavailable(w, err)
		return
	}
	s.renderScreen(w, http.StatusOK, st)
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, maxFormBytes)
	if err := r.ParseForm(); err != nil {
		http.Error(w, "invalid form", http.StatusBadRequest)
		return
	}

	id, st, err := s.loadSession(r)
	if err != nil {
		s.sessionUnavailable(w, err)
		return
	}

	if !s.gate.Authenticate(r.PostForm.Get("password")) {
		s.metrics.IncLogin(false)
		s.logger.Warn("login failed", "remote_addr", r.RemoteAddr)
		// Rendered directly so anonymous attempts never create sessions.
		s.renderScreen(w, http.StatusOK, app.Reduce(st, app.LoginFailed{}))
		return
	}

	s.metrics.IncLogin(true)
	s.logger.Info("login succeeded", "remote_addr", r.RemoteAddr)

	// A fresh id on every login so a pre-login cookie cannot be reused.
	if id != "" {
		if err := s.sessions.Delete(r.Context(), id); err != nil {
			s.logger.Error("failed to drop pre-login session", "error", err)
		}
	}

	st = app.Reduce(st, app.LoginSucceeded{})
	st = s.refresh(r.Context(), st)
	if err := s.saveSession(w, r, "", st); err != nil {
		s.sessionUnavailable(w, err)
		return
	}
	redirectHome(w, r)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	id, _, err := s.loadSession(r)
	if err != nil {
		s.sessionUnavailable(w, err)
		return
	}
	if id != "" {
		if err := s.sessions.Delete(r.Context(), id); err != nil {
			s.sessionUnavailable(w, err)
			return
		}
	}
	s.clearSessionCookie(w)
	redirectHome(w, r)
}

func (s *Server) handleNavigate(w http.ResponseWriter, r *http.Request) {
	s.withSession(w, r, func(_ context.Context, r *http.Request, st app.State) app.State {
		return app.Reduce(st, app.Navigated{To: app.View(r.PostForm.Get("view"))})
	})
}
