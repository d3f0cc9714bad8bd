// SPDX-License-Identifier: MIT

package provider

import (
	"context"
	"errors"
	"fmt"
	"net"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/openbookings/calsync/internal/domain"
)

type timeoutError struct{}

func (timeoutError) Error() string   { return "i/o timeout" }
func (timeoutError) Timeout() bool   { return true }
func (timeoutError) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want Code
	}{
		{"nil", nil, ""},
		{"already classified", NewError(CodeUnauthorized, "401"), CodeUnauthorized},
		{"wrapped classified", fmt.Errorf("probe: %w", NewError(CodeRateLimited, "429")), CodeRateLimited},
		{"deadline", context.DeadlineExceeded, CodeTimeout},
		{"canceled", context.Canceled, CodeTimeout},
		{"net timeout", timeoutError{}, CodeTimeout},
		{"net op error", &net.OpError{Op: "dial", Err: errors.New("connection refused")}, CodeNetworkError},
		{"unknown provider", fmt.Errorf("lookup: %w", domain.ErrUnknownProvider), CodeUnsupportedProvider},
		{"anything else", errors.New("boom"), CodeException},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := Classify(tt.err)
			if tt.want == "" {
				assert.Nil(t, got)
				return
			}
			require.NotNil(t, got)
			assert.Equal(t, tt.want, got.Code)
		})
	}
}

func TestClassifyPreservesCause(t *testing.T) {
	cause := errors.New("refused")
	classified := Classify(&net.OpError{Op: "dial", Err: cause})
	assert.ErrorIs(t, classified, cause)
}

func TestTransientAndAuthFailure(t *testing.T) {
	assert.True(t, Transient(CodeNetworkError))
	assert.True(t, Transient(CodeRateLimited))
	assert.True(t, Transient(CodeTimeout))
	assert.False(t, Transient(CodeUnauthorized))
	assert.False(t, Transient(CodeWorkerDied))

	assert.True(t, AuthFailure(CodeUnauthorized))
	assert.True(t, AuthFailure(CodeTokenExpired))
	assert.False(t, AuthFailure(CodeNetworkError))
}

func TestCodeOf(t *testing.T) {
	assert.Equal(t, Code(""), CodeOf(nil))
	assert.Equal(t, CodeTimeout, CodeOf(NewError(CodeTimeout, "")))
	assert.Equal(t, CodeException, CodeOf(errors.New("unclassified")))
}

func TestTokenValidWindow(t *testing.T) {
	backend := &oauthBackend{kind: domain.KindGoogle}
	now := time.Now()

	assert.False(t, backend.TokenValid(domain.Credentials{}, now))
	assert.True(t, backend.TokenValid(domain.Credentials{AccessToken: "tok"}, now))
	assert.True(t, backend.TokenValid(domain.Credentials{AccessToken: "tok", Expiry: now.Add(time.Hour)}, now))
	assert.False(t, backend.TokenValid(domain.Credentials{AccessToken: "tok", Expiry: now.Add(-time.Hour)}, now))
}
