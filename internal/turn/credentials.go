package turn

import (
	"crypto/hmac"
	"crypto/sha1"
	"encoding/base64"
	"errors"
	"fmt"
	"time"
)

// ErrMissingSharedSecret means the issuer cannot be constructed.
// This is a startup failure, never a per-request one.
var ErrMissingSharedSecret = errors.New("turn: shared secret is required")

// Config holds the parameters for relay credential issuing.
type Config struct {
	URLs         []string
	SharedSecret string
	TTL          time.Duration
}

// Credentials is a time-limited relay credential in the TURN REST API
// format: username encodes issue time and TTL, credential is an HMAC
// over the username. Never stored; recomputed on verification.
type Credentials struct {
	URLs           []string `json:"urls"`
	Username       string   `json:"username"`
	Credential     string   `json:"credential"`
	CredentialType string   `json:"credentialType"`
	ExpiresAt      int64    `json:"expiresAt"` // epoch seconds
}

// Issuer computes relay credentials from configuration and current time.
type Issuer struct {
	cfg Config
	now func() time.Time
}

// NewIssuer builds an issuer, rejecting an absent shared secret.
func NewIssuer(cfg Config) (*Issuer, error) {
	if cfg.SharedSecret == "" {
		return nil, ErrMissingSharedSecret
	}
	if cfg.TTL <= 0 {
		return nil, errors.New("turn: ttl must be positive")
	}
	return &Issuer{cfg: cfg, now: time.Now}, nil
}

// NewIssuerAt is NewIssuer with an injected clock, for tests.
func NewIssuerAt(cfg Config, now func() time.Time) (*Issuer, error) {
	iss, err := NewIssuer(cfg)
	if err != nil {
		return nil, err
	}
	iss.now = now
	return iss, nil
}

// Issue generates fresh credentials. Pure function of config and clock.
func (i *Issuer) Issue() Credentials {
	issuedAt := i.now().Unix()
	ttl := int64(i.cfg.TTL / time.Second)
	username := fmt.Sprintf("%d:%d", issuedAt, ttl)

	return Credentials{
		URLs:           i.cfg.URLs,
		Username:       username,
		Credential:     sign(i.cfg.SharedSecret, username),
		CredentialType: "password",
		ExpiresAt:      issuedAt + ttl,
	}
}

// Verify recomputes the HMAC from the username and checks expiry.
// Both must hold: a structurally valid but expired credential fails.
func (i *Issuer) Verify(c Credentials) bool {
	expected := sign(i.cfg.SharedSecret, c.Username)
	if !hmac.Equal([]byte(expected), []byte(c.Credential)) {
		return false
	}
	return c.ExpiresAt > i.now().Unix()
}

// TimeRemaining reports seconds until expiry, clamped to zero.
func (i *Issuer) TimeRemaining(c Credentials) int64 {
	remaining := c.ExpiresAt - i.now().Unix()
	if remaining < 0 {
		return 0
	}
	return remaining
}

func sign(secret, username string) string {
	mac := hmac.New(sha1.New, []byte(secret))
	mac.Write([]byte(username))
	return base64.StdEncoding.EncodeToString(mac.Sum(nil))
}
