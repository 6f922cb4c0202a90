package dashboard

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/base64"
	"net/http"
	"strings"
	"time"

	"github.com/pkg/errors"
)

const sessionCookie = "ctf_session"

var (
	errInvalidSession = errors.New("invalid session")
	errExpiredSession = errors.New("session expired")
)

type session struct {
	UserID   string `json:"uid"`
	Username string `json:"name"`
	Expires  int64  `json:"exp"`
}

// sessionCodec signs session payloads with HMAC-SHA256. The cookie value is
// base64(payload) "." base64(mac).
type sessionCodec struct {
	secret []byte
	ttl    time.Duration
	secure bool
	now    func() time.Time
}

func newSessionCodec(secret string, ttl time.Duration, secure bool) *sessionCodec {
	return &sessionCodec{secret: []byte(secret), ttl: ttl, secure: secure, now: time.Now}
}

func (c *sessionCodec) Encode(userID, username string) (string, error) {
	payload, err := json.Marshal(session{
		UserID:   userID,
		Username: username,
		Expires:  c.now().Add(c.ttl).Unix(),
	})
	if err != nil {
		return "", errors.Wrap(err, "encode session")
	}
	body := base64.RawURLEncoding.EncodeToString(payload)
	return body + "." + base64.RawURLEncoding.EncodeToString(c.sign(body)), nil
}

func (c *sessionCodec) Decode(value string) (session, error) {
	body, sig, ok := strings.Cut(value, ".")
	if !ok {
		return session{}, errInvalidSession
	}
	mac, err := base64.RawURLEncoding.DecodeString(sig)
	if err != nil || !hmac.Equal(mac, c.sign(body)) {
		return session{}, errInvalidSession
	}
	payload, err := base64.RawURLEncoding.DecodeString(body)
	if err != nil {
		return session{}, errInvalidSession
	}
	var sess session
	if err := json.Unmarshal(payload, &sess); err != nil {
		return session{}, errInvalidSession
	}
	if c.now().Unix() >= sess.Expires {
		return session{}, errExpiredSession
	}
	return sess, nil
}

func (c *sessionCodec) sign(body string) []byte {
	mac := hmac.New(sha256.New, c.secret)
	mac.Write([]byte(body))
	return mac.Sum(nil)
}

func (c *sessionCodec) Cookie(value string) *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookie,
		Value:    value,
		Path:     "/",
		MaxAge:   int(c.ttl.Seconds()),
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

func (c *sessionCodec) Clear() *http.Cookie {
	return &http.Cookie{
		Name:     sessionCookie,
		Value:    "",
		Path:     "/",
		MaxAge:   -1,
		HttpOnly: true,
		Secure:   c.secure,
		SameSite: http.SameSiteLaxMode,
	}
}

type sessionKey struct{}

func withSession(ctx context.Context, sess session) context.Context {
	return context.WithValue(ctx, sessionKey{}, sess)
}

func sessionFrom(ctx context.Context) (session, bool) {
	sess, ok := ctx.Value(sessionKey{}).(session)
	return sess, ok
}
