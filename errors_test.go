package odm

import (
	"context"
	"errors"
	"fmt"
	"testing"
)

func TestTypedErrorsMatchSentinels(t *testing.T) {
	cause := errors.New("underlying cause")

	tests := []struct {
		err      error
		sentinel error
	}{
		{&MappingError{Class: "pkg.T", Cause: cause}, ErrMapping},
		{&ClassNotMappedError{Class: "pkg.T"}, ErrClassNotMapped},
		{&PersistError{Index: 2, Class: "pkg.T", Field: "v", Cause: cause}, ErrPersist},
		{&MissingIdentifierError{Class: "pkg.T"}, ErrMissingIdentifier},
		{&NonUniqueResultError{Rows: 3}, ErrNonUniqueResult},
		{&UnsupportedHydrationModeError{Mode: 9}, ErrUnsupportedHydrationMode},
		{&HydrationError{Class: "pkg.T", Field: "v", Cause: cause}, ErrHydration},
	}

	for _, tt := range tests {
		if !errors.Is(tt.err, tt.sentinel) {
			t.Errorf("%T should match %v", tt.err, tt.sentinel)
		}
		wrapped := fmt.Errorf("outer: %w", tt.err)
		if !errors.Is(wrapped, tt.sentinel) {
			t.Errorf("wrapped %T should match %v", tt.err, tt.sentinel)
		}
		if tt.err.Error() == "" {
			t.Errorf("%T has an empty message", tt.err)
		}
		if errors.Is(tt.err, ErrClosed) {
			t.Errorf("%T should not match an unrelated sentinel", tt.err)
		}
	}

	for _, err := range []error{
		&MappingError{Cause: cause},
		&PersistError{Cause: cause},
		&HydrationError{Cause: cause},
	} {
		if !errors.Is(err, cause) {
			t.Errorf("%T should unwrap to its cause", err)
		}
	}
}

func TestPersistErrorMessage(t *testing.T) {
	withField := &PersistError{Index: 1, Class: "odm.Sensor", Field: "humidity", Cause: errors.New("bad")}
	if got, want := withField.Error(), `persist object 1 (odm.Sensor) field "humidity": bad`; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
	noField := &PersistError{Index: 0, Class: "odm.Sensor", Cause: ErrNoFields}
	if got, want := noField.Error(), "persist object 0 (odm.Sensor): point has no fields"; got != want {
		t.Errorf("got %q, want %q", got, want)
	}
}

func TestTransportError(t *testing.T) {
	netErr := errors.New("connection refused")

	tests := []struct {
		name      string
		err       *TransportError
		retryable bool
		message   string
	}{
		{"server error", newTransportError("write", 503, "unavailable", nil), true, "write: status 503: unavailable"},
		{"rate limited", newTransportError("write", 429, "slow down", nil), true, "write: status 429: slow down"},
		{"bad request", newTransportError("query", 400, "parse error", nil), false, "query: status 400: parse error"},
		{"network", newTransportError("query", 0, "send request", netErr), true, "query: send request: connection refused"},
		{"local", newTransportError("delete", 0, "not a DELETE statement", nil), false, "delete: not a DELETE statement"},
		{"status and cause", newTransportError("write", 500, "read response", netErr), true, "write: status 500: read response: connection refused"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Retryable(); got != tt.retryable {
				t.Errorf("Retryable() = %v, want %v", got, tt.retryable)
			}
			if got := tt.err.Error(); got != tt.message {
				t.Errorf("Error() = %q, want %q", got, tt.message)
			}
			if got := IsRetryable(fmt.Errorf("wrapped: %w", tt.err)); got != tt.retryable {
				t.Errorf("IsRetryable(wrapped) = %v, want %v", got, tt.retryable)
			}
		})
	}

	if IsRetryable(nil) {
		t.Error("nil is not retryable")
	}
	if IsRetryable(newTransportError("write", 0, "send request", context.Canceled)) {
		t.Error("cancellation is never retried")
	}
	if IsRetryable(errors.New("plain")) {
		t.Error("foreign errors are not retried")
	}
}
