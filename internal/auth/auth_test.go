package auth

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/bcnelson/sid/internal/domain"
	"github.com/bcnelson/sid/internal/storage/memory"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var testKey = []byte("0123456789abcdef0123456789abcdef")

func newSealer(t *testing.T) *Sealer {
	t.Helper()
	s, err := NewSealer(testKey)
	require.NoError(t, err)
	return s
}

func TestNewSealerRejectsShortKey(t *testing.T) {
	_, err := NewSealer([]byte("short"))
	assert.Error(t, err)
}

func TestSealerRejectsTampering(t *testing.T) {
	s := newSealer(t)
	sealed, err := s.Seal(map[string]string{"sub": "alice"})
	require.NoError(t, err)

	tampered := []byte(sealed)
	tampered[len(tampered)-2] ^= 0x01
	var out map[string]string
	assert.ErrorIs(t, s.Open(string(tampered), &out), ErrInvalidSeal)
	assert.ErrorIs(t, s.Open("not base64!", &out), ErrInvalidSeal)

	other, err := NewSealer([]byte("fedcba9876543210fedcba9876543210"))
	require.NoError(t, err)
	assert.ErrorIs(t, other.Open(sealed, &out), ErrInvalidSeal)
}

func TestSessionLifecycle(t *testing.T) {
	sm := NewSessionManager(newSealer(t), time.Hour, false)

	rr := httptest.NewRecorder()
	require.NoError(t, sm.Create(rr, &OIDCSession{Subject: "u1", Email: "ops@example.com"}))

	req := httptest.NewRequest(http.MethodGet, "/", nil)
	for _, c := range rr.Result().Cookies() {
		req.AddCookie(c)
	}
	sess, err := sm.Get(req)
	require.NoError(t, err)
	assert.Equal(t, "ops@example.com", sess.DisplayName())

	sm.now = func() time.Time { return time.Now().Add(2 * time.Hour) }
	_, err = sm.Get(req)
	assert.ErrorContains(t, err, "expired")
}

func TestStateValidate(t *testing.T) {
	ss := NewStateStore(newSealer(t), false)
	rr := httptest.NewRecorder()
	data, err := ss.Generate(rr)
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/auth/callback", nil)
	for _, c := range rr.Result().Cookies() {
		req.AddCookie(c)
	}

	got, err := ss.Validate(req, data.State)
	require.NoError(t, err)
	assert.Equal(t, data.Nonce, got.Nonce)

	_, err = ss.Validate(req, "forged")
	assert.ErrorContains(t, err, "mismatch")
}

func TestValidateEmailDomain(t *testing.T) {
	assert.NoError(t, ValidateEmailDomain("a@example.com", nil))
	assert.NoError(t, ValidateEmailDomain("a@Example.COM", []string{"example.com"}))
	assert.Error(t, ValidateEmailDomain("", nil))
	assert.Error(t, ValidateEmailDomain("a@evil.com", []string{"example.com"}))
	assert.Error(t, ValidateEmailDomain("no-at-sign", []string{"example.com"}))
}

func TestKeyAuthenticatorBootstrap(t *testing.T) {
	ctx := context.Background()
	store := memory.New()
	a := NewKeyAuthenticator(store, "bootstrap-secret", nil)

	key, err := a.Authenticate(ctx, "bootstrap-secret")
	require.NoError(t, err)
	assert.Equal(t, "bootstrap", key.ID)

	_, err = a.Authenticate(ctx, "wrong")
	assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)

	created, err := NewAPIKey(ctx, store, "ci")
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(created.Key, KeyPrefix))
	assert.Equal(t, created.Key[:12], created.KeyPrefix)

	// Once a real key exists the bootstrap key stops working.
	_, err = a.Authenticate(ctx, "bootstrap-secret")
	assert.ErrorIs(t, err, domain.ErrInvalidAPIKey)

	got, err := a.Authenticate(ctx, created.Key)
	require.NoError(t, err)
	assert.Equal(t, created.ID, got.ID)
}

func TestVerifySignature(t *testing.T) {
	body := []byte(`{"ref":"refs/heads/main"}`)
	sig := Sign("s3cret", body)

	assert.NoError(t, VerifySignature("s3cret", body, sig))
	assert.ErrorIs(t, VerifySignature("other", body, sig), domain.ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", []byte("{}"), sig), domain.ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", body, strings.TrimPrefix(sig, "sha256=")), domain.ErrBadSignature)
	assert.ErrorIs(t, VerifySignature("s3cret", body, "sha256=zz"), domain.ErrBadSignature)
}
