package shared

import (
	"context"
	"crypto/hmac"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"errors"
	"net/http"
	"strings"
)

const (
	// CSRFSessionKey holds the per-session nonce tokens are derived from.
	CSRFSessionKey = "csrf_token"
	// CSRFFormField is the form field name carrying the CSRF token.
	CSRFFormField = "csrf_token"
	// CSRFHeader carries the token for fetch requests.
	CSRFHeader = "X-CSRF-Token"
)

// CSRFManager issues tokens of the form nonce.mac, where mac binds the nonce
// to the session ID. Renewing the session drops the nonce, so tokens rendered
// before login stop verifying after it.
type CSRFManager struct {
	secret []byte
}

// NewCSRFManager returns a CSRFManager using the provided secret key.
func NewCSRFManager(secret string) *CSRFManager {
	return &CSRFManager{secret: []byte(secret)}
}

// EnsureToken returns the session's token, creating the nonce on first use.
func (m *CSRFManager) EnsureToken(_ context.Context, sess *Session) (string, error) {
	if sess == nil {
		return "", errors.New("session missing")
	}
	nonce := sess.Get(CSRFSessionKey)
	if nonce == "" {
		buf := make([]byte, 18)
		if _, err := rand.Read(buf); err != nil {
			return "", err
		}
		nonce = base64.RawURLEncoding.EncodeToString(buf)
		sess.Set(CSRFSessionKey, nonce)
	}
	return m.token(sess.ID, nonce), nil
}

// VerifyToken checks token against the session's nonce and ID.
func (m *CSRFManager) VerifyToken(_ context.Context, sess *Session, token string) error {
	if sess == nil || token == "" {
		return ErrCSRFTokenMissing
	}
	nonce := sess.Get(CSRFSessionKey)
	if nonce == "" {
		return ErrCSRFTokenMissing
	}
	if !hmac.Equal([]byte(m.token(sess.ID, nonce)), []byte(token)) {
		return ErrCSRFTokenMismatch
	}
	return nil
}

// TokenFromRequest reads the token from the form field, falling back to the
// CSRFHeader header.
func TokenFromRequest(r *http.Request) string {
	if token := strings.TrimSpace(r.PostFormValue(CSRFFormField)); token != "" {
		return token
	}
	return strings.TrimSpace(r.Header.Get(CSRFHeader))
}

func (m *CSRFManager) token(sessionID, nonce string) string {
	mac := hmac.New(sha256.New, m.secret)
	mac.Write([]byte(sessionID))
	mac.Write([]byte{0})
	mac.Write([]byte(nonce))
	return nonce + "." + base64.RawURLEncoding.EncodeToString(mac.Sum(nil))
}
