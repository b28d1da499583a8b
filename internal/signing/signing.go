// Package signing implements the HMAC credentials that bind an HTTP request to
// a caller identity. A credential is an identity, an expiry and the hex
// signature over both.
package signing

import (
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"
)

// Request headers carrying a credential.
const (
	HeaderIdentity  = "X-Seedtrace-Identity"
	HeaderExpires   = "X-Seedtrace-Expires"
	HeaderSignature = "X-Seedtrace-Signature"
)

var (
	// ErrMissing means the request carried no credential headers.
	ErrMissing = errors.New("missing credential")
	// ErrExpired means the credential's expiry has passed.
	ErrExpired = errors.New("credential expired")
	// ErrInvalid means the signature does not match.
	ErrInvalid = errors.New("invalid credential signature")
)

// Credential asserts that Identity is the caller until Expires.
type Credential struct {
	Identity  string `json:"identity"`
	Expires   int64  `json:"expires"`
	Signature string `json:"signature"`
}

// Signer generates and validates HMAC based signatures.
type Signer struct {
	secret []byte
}

// NewSigner creates a Signer.
func NewSigner(secret []byte) *Signer {
	return &Signer{secret: secret}
}

// Sign returns the hex signature for inputs.
func (s *Signer) Sign(identity string, expiresUnix int64) string {
	mac := hmac.New(sha256.New, s.secret)
	payload := fmt.Sprintf("%s:%d", identity, expiresUnix)
	mac.Write([]byte(payload))
	return hex.EncodeToString(mac.Sum(nil))
}

// Validate compares the provided signature with the expected.
func (s *Signer) Validate(identity, expires, signature string) bool {
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return false
	}
	expected := s.Sign(identity, exp)
	// hmac.Equal performs constant-time comparison to avoid timing attacks.
	return hmac.Equal([]byte(expected), []byte(signature))
}

// Issue mints a credential for identity valid for ttl from now.
func (s *Signer) Issue(identity string, ttl time.Duration, now time.Time) Credential {
	exp := now.Add(ttl).Unix()
	return Credential{Identity: identity, Expires: exp, Signature: s.Sign(identity, exp)}
}

// Verify checks the signature and the expiry.
func (s *Signer) Verify(c Credential, now time.Time) error {
	if !s.Validate(c.Identity, strconv.FormatInt(c.Expires, 10), c.Signature) {
		return ErrInvalid
	}
	if now.Unix() > c.Expires {
		return ErrExpired
	}
	return nil
}

// FromRequest reads the credential headers of r.
func FromRequest(r *http.Request) (Credential, error) {
	id := r.Header.Get(HeaderIdentity)
	expires := r.Header.Get(HeaderExpires)
	sig := r.Header.Get(HeaderSignature)
	if id == "" || expires == "" || sig == "" {
		return Credential{}, ErrMissing
	}
	exp, err := strconv.ParseInt(expires, 10, 64)
	if err != nil {
		return Credential{}, ErrInvalid
	}
	return Credential{Identity: id, Expires: exp, Signature: sig}, nil
}

// Apply sets the credential headers on r.
func (c Credential) Apply(r *http.Request) {
	r.Header.Set(HeaderIdentity, c.Identity)
	r.Header.Set(HeaderExpires, strconv.FormatInt(c.Expires, 10))
	r.Header.Set(HeaderSignature, c.Signature)
}
