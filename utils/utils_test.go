package utils

import (
	"net/http"
	"net/http/httptest"
	"regexp"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVoterTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)
	token, err := m.IssueVoterToken(42)
	require.NoError(t, err)

	id, err := m.ResolveVoter(token)
	require.NoError(t, err)
	assert.Equal(t, uint(42), id)

	_, err = m.ResolveAdmin(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestAdminTokenRoundTrip(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)
	token, err := m.IssueAdminToken("commissioner")
	require.NoError(t, err)

	name, err := m.ResolveAdmin(token)
	require.NoError(t, err)
	assert.Equal(t, "commissioner", name)

	_, err = m.ResolveVoter(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestTokenRejections(t *testing.T) {
	m := NewTokenManager("secret", time.Hour)
	token, err := m.IssueVoterToken(1)
	require.NoError(t, err)

	other := NewTokenManager("other-secret", time.Hour)
	_, err = other.ResolveVoter(token)
	assert.ErrorIs(t, err, ErrInvalidToken)

	_, err = m.ResolveVoter("")
	assert.ErrorIs(t, err, ErrInvalidToken)
	_, err = m.ResolveVoter("not-a-jwt")
	assert.ErrorIs(t, err, ErrInvalidToken)

	expired := NewTokenManager("secret", time.Minute)
	expired.now = func() time.Time { return time.Now().Add(-time.Hour) }
	old, err := expired.IssueVoterToken(1)
	require.NoError(t, err)
	_, err = m.ResolveVoter(old)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestPassword(t *testing.T) {
	hash, err := HashPassword("pa55word")
	require.NoError(t, err)
	assert.True(t, CheckPassword(hash, "pa55word"))
	assert.False(t, CheckPassword(hash, "wrong"))
	assert.False(t, CheckPassword("not-a-hash", "pa55word"))
}

func TestGeneratedIDs(t *testing.T) {
	voter := regexp.MustCompile(`^[A-Z]{3}[0-9]{6}$`)
	candidate := regexp.MustCompile(`^C[A-Z]{3}[0-9]{6}$`)
	for i := 0; i < 100; i++ {
		assert.Regexp(t, voter, GenerateVotersID())
		assert.Regexp(t, candidate, GenerateCandidateCode())
	}
}

func TestGracefulShutdown(t *testing.T) {
	ts := httptest.NewUnstartedServer(http.NotFoundHandler())
	ts.Start()
	srv := ts.Config

	require.NoError(t, GracefulShutdown(time.Second, srv, nil))
	_, err := http.Get(ts.URL)
	assert.Error(t, err)
}
