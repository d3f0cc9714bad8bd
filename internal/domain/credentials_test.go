// SPDX-License-Identifier: MIT

package domain

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSealerRoundTrip(t *testing.T) {
	sealer, err := NewSealer([]byte("0123456789abcdef0123456789abcdef"))
	require.NoError(t, err)

	creds := Credentials{
		ServerURL: "https://dav.example.com/cal",
		Username:  "alice",
		Password:  "s3cret",
	}

	blob, err := sealer.Seal(creds)
	require.NoError(t, err)
	require.NotEmpty(t, blob)
	assert.NotContains(t, blob, "s3cret")

	got, err := sealer.Open(blob)
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}

func TestSealerRejectsTamperedBlob(t *testing.T) {
	sealer, err := NewSealer([]byte("0123456789abcdef"))
	require.NoError(t, err)

	blob, err := sealer.Seal(Credentials{Username: "bob"})
	require.NoError(t, err)

	_, err = sealer.Open("x" + blob[1:])
	assert.ErrorIs(t, err, ErrSealedCredentials)

	_, err = sealer.Open("not-base64!!")
	assert.ErrorIs(t, err, ErrSealedCredentials)
}

func TestSealerRejectsBadKey(t *testing.T) {
	_, err := NewSealer([]byte("short"))
	assert.Error(t, err)
}

func TestNilSealerStoresPlaintext(t *testing.T) {
	var sealer *Sealer

	creds := Credentials{Username: "carol", Password: "hunter2"}
	blob, err := sealer.Seal(creds)
	require.NoError(t, err)
	assert.Contains(t, blob, "hunter2", "disabled sealing stores plaintext JSON")

	got, err := sealer.Open(blob)
	require.NoError(t, err)
	assert.Equal(t, creds, got)
}

func TestParseKind(t *testing.T) {
	for _, name := range []string{"caldav", "radicale", "nextcloud", "google", "outlook"} {
		kind, err := ParseKind(name)
		require.NoError(t, err)
		assert.Equal(t, Kind(name), kind)
	}

	_, err := ParseKind("exchange")
	assert.ErrorIs(t, err, ErrUnknownProvider)
}

func TestKindOAuth(t *testing.T) {
	assert.True(t, KindGoogle.OAuth())
	assert.True(t, KindOutlook.OAuth())
	assert.False(t, KindCalDAV.OAuth())
	assert.False(t, KindRadicale.OAuth())
	assert.False(t, KindNextcloud.OAuth())
}

func TestTokenExpired(t *testing.T) {
	now := time.Now()

	assert.False(t, Credentials{}.TokenExpired(now), "zero expiry never expires")
	assert.True(t, Credentials{Expiry: now.Add(-time.Minute)}.TokenExpired(now))
	assert.False(t, Credentials{Expiry: now.Add(time.Minute)}.TokenExpired(now))
}
