// Package portaltest runs an in-process fake of the IPTV portal for
// tests of the portal client, the resolver and the broker.
package portaltest

import (
	"fmt"
	"net/http"
	"net/http/httptest"
	"sync"
	"sync/atomic"
)

const (
	Token     = "tok-123"
	SessionID = "sess-abc"
	PortalID  = "portal-xyz"
	Username  = "alice"
	Password  = "secret"
)

// Server is a fake portal.  Dashboard is the markup served to an
// authenticated client and may be changed between requests.
type Server struct {
	*httptest.Server

	mu        sync.Mutex
	dashboard string

	LoginPageHits atomic.Int64
	LoginHits     atomic.Int64
	DashboardHits atomic.Int64

	// Down makes every endpoint answer 503.
	Down atomic.Bool
}

// NewServer starts a fake portal serving dashboard after login.
func NewServer(dashboard string) *Server {
	s := &Server{dashboard: dashboard}
	mux := http.NewServeMux()
	mux.HandleFunc("/public/login", s.login)
	mux.HandleFunc("/dashboard", s.dash)
	s.Server = httptest.NewServer(mux)
	return s
}

// SetDashboard replaces the authenticated dashboard markup.
func (s *Server) SetDashboard(body string) {
	s.mu.Lock()
	s.dashboard = body
	s.mu.Unlock()
}

func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	if s.Down.Load() {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}
	switch r.Method {
	case http.MethodGet:
		s.LoginPageHits.Add(1)
		fmt.Fprintf(w, `<html><body>
<form method="post" action="/public/login">
  <input type="text" name="credential">
  <input type="hidden" name="csrf_token" value="%s">
  <input type="hidden" name="other" value="ignored">
</form></body></html>`, Token)
	case http.MethodPost:
		s.LoginHits.Add(1)
		if err := r.ParseForm(); err != nil ||
			r.PostForm.Get("credential") != Username ||
			r.PostForm.Get("password") != Password ||
			r.PostForm.Get("csrf_token") != Token {
			http.Redirect(w, r, "/public/login", http.StatusFound)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "iptv_session", Value: SessionID, Path: "/"})
		http.SetCookie(w, &http.Cookie{Name: "iptv_portal", Value: PortalID, Path: "/"})
		http.Redirect(w, r, "/dashboard", http.StatusFound)
	default:
		w.WriteHeader(http.StatusMethodNotAllowed)
	}
}

func (s *Server) dash(w http.ResponseWriter, r *http.Request) {
	if s.Down.Load() {
		http.Error(w, "down", http.StatusServiceUnavailable)
		return
	}
	s.DashboardHits.Add(1)
	sess, err1 := r.Cookie("iptv_session")
	port, err2 := r.Cookie("iptv_portal")
	if err1 != nil || err2 != nil || sess.Value != SessionID || port.Value != PortalID {
		fmt.Fprint(w, `<html><body>please log in</body></html>`)
		return
	}
	s.mu.Lock()
	body := s.dashboard
	s.mu.Unlock()
	fmt.Fprint(w, body)
}
