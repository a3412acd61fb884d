package token

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestJobTokenRoundTrip(t *testing.T) {
	signer := NewSigner("secret")

	raw, err := signer.JobToken("TEST-abc")
	require.NoError(t, err)
	assert.NoError(t, signer.VerifyJobToken(raw, "TEST-abc"))
}

func TestJobTokenBoundToJob(t *testing.T) {
	signer := NewSigner("secret")

	raw, err := signer.JobToken("TEST-a")
	require.NoError(t, err)

	err = signer.VerifyJobToken(raw, "TEST-b")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJobTokenWrongSecret(t *testing.T) {
	raw, err := NewSigner("secret-one").JobToken("TEST-abc")
	require.NoError(t, err)

	err = NewSigner("secret-two").VerifyJobToken(raw, "TEST-abc")
	assert.ErrorIs(t, err, ErrInvalidToken)
}

func TestJobTokenExpiry(t *testing.T) {
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	signer := NewSigner("secret").WithClock(func() time.Time { return issued })

	raw, err := signer.JobToken("TEST-abc")
	require.NoError(t, err)

	// Still valid just inside the TTL.
	signer.WithClock(func() time.Time { return issued.Add(JobTokenTTL - time.Minute) })
	assert.NoError(t, signer.VerifyJobToken(raw, "TEST-abc"))

	signer.WithClock(func() time.Time { return issued.Add(JobTokenTTL + time.Minute) })
	assert.ErrorIs(t, signer.VerifyJobToken(raw, "TEST-abc"), ErrInvalidToken)
}

func TestAdminToken(t *testing.T) {
	signer := NewSigner("secret")

	raw, err := signer.AdminToken()
	require.NoError(t, err)
	assert.NoError(t, signer.VerifyAdminToken(raw))

	// An admin token carries no job_id, so it never passes job checks.
	assert.ErrorIs(t, signer.VerifyJobToken(raw, "TEST-abc"), ErrInvalidToken)
}

func TestAdminTokenExpiry(t *testing.T) {
	issued := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	signer := NewSigner("secret").WithClock(func() time.Time { return issued })

	raw, err := signer.AdminToken()
	require.NoError(t, err)

	signer.WithClock(func() time.Time { return issued.Add(AdminTokenTTL + time.Minute) })
	assert.ErrorIs(t, signer.VerifyAdminToken(raw), ErrInvalidToken)
}

func TestGarbageToken(t *testing.T) {
	signer := NewSigner("secret")
	assert.ErrorIs(t, signer.VerifyAdminToken("not-a-token"), ErrInvalidToken)
	assert.ErrorIs(t, signer.VerifyJobToken("", "TEST-abc"), ErrInvalidToken)
}
