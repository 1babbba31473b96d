package errs

import (
	"errors"
	"fmt"
	"testing"
)

func TestServiceErrorRetryable(t *testing.T) {
	cases := map[ServiceKind]bool{
		KindTimeout:           true,
		KindRateLimited:       true,
		KindMalformedResponse: false,
		KindUnavailable:       false,
	}
	for kind, want := range cases {
		se := NewServiceError("openai", kind, errors.New("boom"))
		if se.Retryable() != want {
			t.Fatalf("kind %s: retryable = %v, want %v", kind, se.Retryable(), want)
		}
	}
}

func TestIsRetryableUnwraps(t *testing.T) {
	inner := NewServiceError("openai", KindTimeout, errors.New("deadline"))
	wrapped := fmt.Errorf("judge chunk 2: %w", inner)
	if !IsRetryable(wrapped) {
		t.Fatal("wrapped retryable service error should stay retryable")
	}
	if IsRetryable(errors.New("plain")) {
		t.Fatal("plain errors are not retryable")
	}
	if IsRetryable(nil) {
		t.Fatal("nil is not retryable")
	}
}

func TestServiceErrorUnwrap(t *testing.T) {
	inner := errors.New("connection refused")
	se := NewServiceError("neo4j", KindUnavailable, inner)
	if !errors.Is(se, inner) {
		t.Fatal("service error should unwrap to its cause")
	}
	if se.Error() != "neo4j: unavailable: connection refused" {
		t.Fatalf("unexpected message %q", se.Error())
	}
}
