package dashboard

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"net/http"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"
)

const stateCookie = "ctf_oauth_state"

type discordUser struct {
	ID         string `json:"id"`
	Username   string `json:"username"`
	GlobalName string `json:"global_name"`
}

func (u discordUser) DisplayName() string {
	if u.GlobalName != "" {
		return u.GlobalName
	}
	return u.Username
}

func (s *Server) handleLogin(w http.ResponseWriter, r *http.Request) {
	state, err := randomState()
	if err != nil {
		s.logger.Error("oauth state generation failed", zap.Error(err))
		s.renderError(w, http.StatusInternalServerError, "Login is unavailable right now.")
		return
	}
	http.SetCookie(w, &http.Cookie{
		Name:     stateCookie,
		Value:    state,
		Path:     "/auth",
		MaxAge:   600,
		HttpOnly: true,
		Secure:   s.sessions.secure,
		SameSite: http.SameSiteLaxMode,
	})
	http.Redirect(w, r, s.oauth.AuthCodeURL(state), http.StatusFound)
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	cookie, err := r.Cookie(stateCookie)
	if err != nil || cookie.Value == "" || cookie.Value != r.URL.Query().Get("state") {
		s.renderError(w, http.StatusBadRequest, "Login expired. Please try again.")
		return
	}
	http.SetCookie(w, &http.Cookie{Name: stateCookie, Path: "/auth", MaxAge: -1})

	code := r.URL.Query().Get("code")
	if code == "" {
		s.renderError(w, http.StatusBadRequest, "Discord did not return an authorization code.")
		return
	}
	token, err := s.oauth.Exchange(r.Context(), code)
	if err != nil {
		s.logger.Warn("oauth exchange failed", zap.Error(err))
		s.renderError(w, http.StatusBadGateway, "Could not complete the Discord login.")
		return
	}
	user, err := s.fetchUser(r.Context(), token)
	if err != nil {
		s.logger.Warn("discord user lookup failed", zap.Error(err))
		s.renderError(w, http.StatusBadGateway, "Could not complete the Discord login.")
		return
	}
	if !s.isAdmin(user.ID) {
		s.logger.Info("dashboard login denied", zap.String("user_id", user.ID))
		s.renderError(w, http.StatusForbidden, "Your Discord account is not allowed to manage this assistant.")
		return
	}

	value, err := s.sessions.Encode(user.ID, user.DisplayName())
	if err != nil {
		s.logger.Error("session encode failed", zap.Error(err))
		s.renderError(w, http.StatusInternalServerError, "Login is unavailable right now.")
		return
	}
	http.SetCookie(w, s.sessions.Cookie(value))
	s.logger.Info("dashboard login", zap.String("user_id", user.ID))
	http.Redirect(w, r, "/integrations", http.StatusSeeOther)
}

func (s *Server) handleLogout(w http.ResponseWriter, r *http.Request) {
	http.SetCookie(w, s.sessions.Clear())
	http.Redirect(w, r, "/login", http.StatusSeeOther)
}

func (s *Server) fetchUser(ctx context.Context, token *oauth2.Token) (discordUser, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, s.userURL, nil)
	if err != nil {
		return discordUser{}, err
	}
	resp, err := s.oauth.Client(ctx, token).Do(req)
	if err != nil {
		return discordUser{}, errors.Wrap(err, "request discord user")
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return discordUser{}, errors.Errorf("discord user lookup: status %d", resp.StatusCode)
	}
	var user discordUser
	if err := json.NewDecoder(resp.Body).Decode(&user); err != nil {
		return discordUser{}, errors.Wrap(err, "decode discord user")
	}
	if user.ID == "" {
		return discordUser{}, errors.New("discord user without id")
	}
	return user, nil
}

func (s *Server) isAdmin(userID string) bool {
	_, ok := s.admins[userID]
	return ok
}

func (s *Server) currentSession(r *http.Request) (session, bool) {
	cookie, err := r.Cookie(sessionCookie)
	if err != nil {
		return session{}, false
	}
	sess, err := s.sessions.Decode(cookie.Value)
	if err != nil || !s.isAdmin(sess.UserID) {
		return session{}, false
	}
	return sess, true
}

func (s *Server) requireAdmin(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.currentSession(r)
		if !ok {
			http.Redirect(w, r, "/login", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess)))
	})
}

func (s *Server) requireAdminAPI(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		sess, ok := s.currentSession(r)
		if !ok {
			writeJSON(w, s.logger, http.StatusUnauthorized, apiError{Error: "authentication required"})
			return
		}
		next.ServeHTTP(w, r.WithContext(withSession(r.Context(), sess)))
	})
}

func randomState() (string, error) {
	buf := make([]byte, 16)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
