package storage

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, expiresAt, err := signer.Generate("job-1", "statements/file.csv")
	require.NoError(t, err)
	require.NotEmpty(t, token)
	require.False(t, expiresAt.IsZero())

	jobID, path, parsedExpiry, err := signer.Parse(token, false)
	require.NoError(t, err)
	require.Equal(t, "job-1", jobID)
	require.Equal(t, "statements/file.csv", path)
	require.WithinDuration(t, expiresAt, parsedExpiry, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Millisecond*10)
	token, _, err := signer.Generate("job-1", "statements/file.csv")
	require.NoError(t, err)
	time.Sleep(time.Millisecond * 20)

	_, _, _, err = signer.Parse(token, false)
	require.Error(t, err)

	jobID, path, _, err := signer.Parse(token, true)
	require.NoError(t, err)
	require.Equal(t, "job-1", jobID)
	require.Equal(t, "statements/file.csv", path)
}

func TestSignedURLSignerTamperedToken(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	token, _, err := signer.Generate("job-1", "statements/file.csv")
	require.NoError(t, err)

	_, _, _, err = signer.Parse(token+"0", false)
	require.Error(t, err)

	other := NewSignedURLSigner("another-secret", time.Hour)
	_, _, _, err = other.Parse(token, false)
	require.Error(t, err)
}

func TestSignedURLSignerParams(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	sig := signer.SignParams("2026-03-01", "2026-03-31", "1772400000")
	require.NotEmpty(t, sig)

	require.True(t, signer.VerifyParams(sig, "2026-03-01", "2026-03-31", "1772400000"))
	require.False(t, signer.VerifyParams(sig, "2026-03-31", "2026-03-01", "1772400000"))
	require.False(t, signer.VerifyParams("", "2026-03-01", "2026-03-31", "1772400000"))

	other := NewSignedURLSigner("another-secret", time.Hour)
	require.False(t, other.VerifyParams(sig, "2026-03-01", "2026-03-31", "1772400000"))
}
