package shared

import (
	"context"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCSRFTokenStableWithinSession(t *testing.T) {
	sm, _ := newTestSessions(t)
	csrf := NewCSRFManager("csrfsecret")
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	first, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)

	loaded, err := sm.Load(ctx, roundTrip(t, sm, sess))
	require.NoError(t, err)
	second, err := csrf.EnsureToken(ctx, loaded)
	require.NoError(t, err)

	assert.Equal(t, first, second)
	assert.NoError(t, csrf.VerifyToken(ctx, loaded, first))
}

func TestCSRFTokenRejected(t *testing.T) {
	sm, _ := newTestSessions(t)
	csrf := NewCSRFManager("csrfsecret")
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, "anything"), ErrCSRFTokenMissing)

	token, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, ""), ErrCSRFTokenMissing)
	assert.ErrorIs(t, csrf.VerifyToken(ctx, sess, token+"x"), ErrCSRFTokenMismatch)

	other, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	other.Set(CSRFSessionKey, sess.Get(CSRFSessionKey))
	assert.ErrorIs(t, csrf.VerifyToken(ctx, other, token), ErrCSRFTokenMismatch, "token is bound to the session ID")

	assert.ErrorIs(t, NewCSRFManager("rotated").VerifyToken(ctx, sess, token), ErrCSRFTokenMismatch)
}

func TestCSRFTokenInvalidAfterRenew(t *testing.T) {
	sm, _ := newTestSessions(t)
	csrf := NewCSRFManager("csrfsecret")
	ctx := context.Background()

	sess, err := sm.Load(ctx, httptest.NewRequest(http.MethodGet, "/", nil))
	require.NoError(t, err)
	token, err := csrf.EnsureToken(ctx, sess)
	require.NoError(t, err)

	sm.Renew(sess)
	assert.Error(t, csrf.VerifyToken(ctx, sess, token))
}

func TestTokenFromRequest(t *testing.T) {
	form := url.Values{CSRFFormField: {" form-token "}}
	req := httptest.NewRequest(http.MethodPost, "/", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	req.Header.Set(CSRFHeader, "header-token")
	assert.Equal(t, "form-token", TokenFromRequest(req))

	req = httptest.NewRequest(http.MethodPost, "/", nil)
	req.Header.Set(CSRFHeader, "header-token")
	assert.Equal(t, "header-token", TokenFromRequest(req))
}
