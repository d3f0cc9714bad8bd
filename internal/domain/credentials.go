// SPDX-License-Identifier: MIT

package domain

import (
	"crypto/aes"
	"crypto/cipher"
	"crypto/rand"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"time"
)

// Credentials carries the secret material needed to reach a provider.
// CalDAV-family integrations use ServerURL/Username/Password; OAuth-family
// integrations use the token fields.
type Credentials struct {
	ServerURL string `json:"server_url,omitempty"`
	Username  string `json:"username,omitempty"`
	Password  string `json:"password,omitempty"`

	AccessToken  string    `json:"access_token,omitempty"`
	RefreshToken string    `json:"refresh_token,omitempty"`
	Expiry       time.Time `json:"expiry,omitempty"`
}

// TokenExpired reports whether the access token is past its expiry.
// A zero expiry means the token never expires.
func (c Credentials) TokenExpired(now time.Time) bool {
	return !c.Expiry.IsZero() && now.After(c.Expiry)
}

var ErrSealedCredentials = errors.New("credentials are sealed or malformed")

// Sealer encrypts credentials for storage and decrypts them on read.
// The store persists only sealed blobs; everything above the store works
// with plaintext Credentials.
type Sealer struct {
	aead cipher.AEAD
}

// NewSealer builds a Sealer from a 16, 24 or 32 byte AES key.
func NewSealer(key []byte) (*Sealer, error) {
	block, err := aes.NewCipher(key)
	if err != nil {
		return nil, fmt.Errorf("credentials key: %w", err)
	}
	aead, err := cipher.NewGCM(block)
	if err != nil {
		return nil, fmt.Errorf("credentials cipher: %w", err)
	}
	return &Sealer{aead: aead}, nil
}

// Seal serialises and encrypts the credentials. The nonce is prepended to
// the ciphertext and the whole blob is base64 encoded. A nil Sealer stores
// plaintext JSON (sealing disabled).
func (s *Sealer) Seal(creds Credentials) (string, error) {
	plain, err := json.Marshal(creds)
	if err != nil {
		return "", fmt.Errorf("marshal credentials: %w", err)
	}
	if s == nil {
		return string(plain), nil
	}

	nonce := make([]byte, s.aead.NonceSize())
	if _, err := rand.Read(nonce); err != nil {
		return "", fmt.Errorf("credentials nonce: %w", err)
	}

	sealed := s.aead.Seal(nonce, nonce, plain, nil)
	return base64.StdEncoding.EncodeToString(sealed), nil
}

// Open decrypts a blob produced by Seal.
func (s *Sealer) Open(blob string) (Credentials, error) {
	if s == nil {
		var creds Credentials
		if err := json.Unmarshal([]byte(blob), &creds); err != nil {
			return Credentials{}, fmt.Errorf("%w: %v", ErrSealedCredentials, err)
		}
		return creds, nil
	}

	raw, err := base64.StdEncoding.DecodeString(blob)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrSealedCredentials, err)
	}
	if len(raw) < s.aead.NonceSize() {
		return Credentials{}, ErrSealedCredentials
	}

	nonce, ciphertext := raw[:s.aead.NonceSize()], raw[s.aead.NonceSize():]
	plain, err := s.aead.Open(nil, nonce, ciphertext, nil)
	if err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrSealedCredentials, err)
	}

	var creds Credentials
	if err := json.Unmarshal(plain, &creds); err != nil {
		return Credentials{}, fmt.Errorf("%w: %v", ErrSealedCredentials, err)
	}
	return creds, nil
}
