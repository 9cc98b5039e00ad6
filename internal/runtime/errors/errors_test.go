package errors

import (
	"errors"
	"testing"
)

func TestSentinelErrors(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantMsg string
	}{
		{"ErrConfigRequired", ErrConfigRequired, "cdcsync: configuration is required"},
		{"ErrLoggerRequired", ErrLoggerRequired, "cdcsync: logger is required"},
		{"ErrTopicRequired", ErrTopicRequired, "cdcsync: topic is required"},
		{"ErrSinkRequired", ErrSinkRequired, "cdcsync: sink is required"},
		{"ErrPublisherRequired", ErrPublisherRequired, "cdcsync: publisher is required"},
		{"ErrDestinationRequired", ErrDestinationRequired, "cdcsync: destination connection string is required"},
		{"ErrUnsupportedDialect", ErrUnsupportedDialect, "cdcsync: unsupported destination driver"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.err.Error(); got != tt.wantMsg {
				t.Errorf("Error() = %q, want %q", got, tt.wantMsg)
			}
		})
	}
}

func TestConfigValidationError(t *testing.T) {
	inner := errors.New("kafka: brokers are required")
	err := ConfigValidationError{Err: inner}

	if got := err.Error(); got != "cdcsync: invalid configuration: kafka: brokers are required" {
		t.Fatalf("unexpected message %q", got)
	}
	if !errors.Is(err, inner) {
		t.Fatal("expected ConfigValidationError to unwrap to the inner error")
	}

	var target ConfigValidationError
	if !errors.As(error(err), &target) {
		t.Fatal("expected errors.As to match ConfigValidationError")
	}
}
