package signing

import (
	"errors"
	"net/http/httptest"
	"testing"
	"time"
)

func TestSigner(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	sig := s.Sign("cultivator-1", 1700000000)
	if len(sig) == 0 {
		t.Fatalf("expected signature")
	}
	if !s.Validate("cultivator-1", "1700000000", sig) {
		t.Fatalf("expected signature to validate")
	}
	if s.Validate("processor-1", "1700000000", sig) {
		t.Fatalf("expected validation to fail for wrong identity")
	}
	if s.Validate("cultivator-1", "42", sig) {
		t.Fatalf("expected validation to fail for wrong expiry")
	}
	if s.Validate("cultivator-1", "soon", sig) {
		t.Fatalf("expected validation to fail for malformed expiry")
	}
}

func TestIssueAndVerify(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	now := time.Unix(1700000000, 0)
	cred := s.Issue("admin", time.Minute, now)
	if err := s.Verify(cred, now.Add(30*time.Second)); err != nil {
		t.Fatalf("verify: %v", err)
	}
	if err := s.Verify(cred, now.Add(2*time.Minute)); !errors.Is(err, ErrExpired) {
		t.Fatalf("expected ErrExpired, got %v", err)
	}
	forged := cred
	forged.Identity = "intruder"
	if err := s.Verify(forged, now); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid, got %v", err)
	}
	other := NewSigner([]byte("different"))
	if err := other.Verify(cred, now); !errors.Is(err, ErrInvalid) {
		t.Fatalf("expected ErrInvalid for foreign secret, got %v", err)
	}
}

func TestHeadersRoundTrip(t *testing.T) {
	s := NewSigner([]byte("topsecret"))
	cred := s.Issue("dispensary", time.Hour, time.Now())
	req := httptest.NewRequest("GET", "/assets/1", nil)
	if _, err := FromRequest(req); !errors.Is(err, ErrMissing) {
		t.Fatalf("expected ErrMissing, got %v", err)
	}
	cred.Apply(req)
	got, err := FromRequest(req)
	if err != nil {
		t.Fatalf("from request: %v", err)
	}
	if got != cred {
		t.Fatalf("got %+v, want %+v", got, cred)
	}
}
