package storage

import (
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSignedURLSignerGenerateAndParse(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	link, err := signer.Generate("exp-1", "imports/roster.csv")
	require.NoError(t, err)
	require.NotEmpty(t, link.Token)

	parsed, err := signer.Parse(link.Token, false)
	require.NoError(t, err)
	assert.Equal(t, "exp-1", parsed.OwnerID)
	assert.Equal(t, "imports/roster.csv", parsed.Path)
	assert.WithinDuration(t, link.ExpiresAt, parsed.ExpiresAt, time.Second)
}

func TestSignedURLSignerExpired(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Minute)
	link, err := signer.Generate("exp-1", "imports/roster.csv")
	require.NoError(t, err)

	signer.now = func() time.Time { return time.Now().Add(2 * time.Minute) }

	_, err = signer.Parse(link.Token, false)
	assert.ErrorIs(t, err, ErrTokenExpired)

	parsed, err := signer.Parse(link.Token, true)
	require.NoError(t, err)
	assert.Equal(t, "imports/roster.csv", parsed.Path)
}

func TestSignedURLSignerRejectsTampering(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	link, err := signer.Generate("exp-1", "imports/roster.csv")
	require.NoError(t, err)

	parts := strings.Split(link.Token, ".")
	parts[0] = "exp-2"
	_, err = signer.Parse(strings.Join(parts, "."), false)
	assert.ErrorIs(t, err, ErrTokenSignature)

	_, err = NewSignedURLSigner("other", time.Hour).Parse(link.Token, false)
	assert.ErrorIs(t, err, ErrTokenSignature)

	_, err = signer.Parse("garbage", false)
	assert.ErrorIs(t, err, ErrTokenFormat)
}

func TestSignedURLSignerValidatesInput(t *testing.T) {
	signer := NewSignedURLSigner("secret", time.Hour)
	_, err := signer.Generate("", "file.csv")
	assert.Error(t, err)
	_, err = signer.Generate("a.b", "file.csv")
	assert.Error(t, err)
	_, err = NewSignedURLSigner("", time.Hour).Generate("exp-1", "file.csv")
	assert.Error(t, err)
}
