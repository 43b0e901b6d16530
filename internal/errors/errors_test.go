package errors

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"syscall"
	"testing"
)

func TestProbeError(t *testing.T) {
	t.Run("message with cause", func(t *testing.T) {
		cause := fmt.Errorf("dial tcp: connection refused")
		err := &ProbeError{Code: CodeConnectRefused, Target: "10.0.0.1", Port: 22, Cause: cause}
		expected := "[CONNECT_REFUSED] 10.0.0.1:22: dial tcp: connection refused"
		if err.Error() != expected {
			t.Errorf("Expected error message '%s', got '%s'", expected, err.Error())
		}
		if err.Unwrap() != cause {
			t.Error("Unwrap should return the cause")
		}
		if !err.Refused() {
			t.Error("Expected Refused to be true")
		}
	})

	t.Run("message without cause", func(t *testing.T) {
		err := &ProbeError{Code: CodeCanceled, Target: "host", Port: 80}
		if err.Error() != "[CANCELED] host:80" {
			t.Errorf("Unexpected message: %s", err.Error())
		}
		if err.Refused() {
			t.Error("Expected Refused to be false")
		}
	})

	t.Run("constructor classifies", func(t *testing.T) {
		err := NewProbeError("host", 443, syscall.ECONNREFUSED)
		if err.Code != CodeConnectRefused {
			t.Errorf("Expected %s, got %s", CodeConnectRefused, err.Code)
		}
		if !errors.Is(err, syscall.ECONNREFUSED) {
			t.Error("errors.Is should see through ProbeError")
		}
	})
}

type timeoutErr struct{}

func (timeoutErr) Error() string   { return "i/o timeout" }
func (timeoutErr) Timeout() bool   { return true }
func (timeoutErr) Temporary() bool { return true }

func TestClassify(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{"nil", nil, CodeUnknown},
		{"canceled", context.Canceled, CodeCanceled},
		{"deadline", context.DeadlineExceeded, CodeConnectTimeout},
		{"os deadline", os.ErrDeadlineExceeded, CodeConnectTimeout},
		{"dns not found", &net.DNSError{Err: "no such host", Name: "nope.invalid", IsNotFound: true}, CodeDNSFailure},
		{"dns timeout", &net.DNSError{Err: "timeout", Name: "slow", IsTimeout: true}, CodeConnectTimeout},
		{"refused", &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNREFUSED)}, CodeConnectRefused},
		{"reset", &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ECONNRESET)}, CodeConnectionReset},
		{"host unreachable", &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.EHOSTUNREACH)}, CodeHostUnreachable},
		{"net unreachable", &net.OpError{Op: "dial", Net: "tcp", Err: os.NewSyscallError("connect", syscall.ENETUNREACH)}, CodeHostUnreachable},
		{"net timeout", &net.OpError{Op: "dial", Net: "tcp", Err: timeoutErr{}}, CodeConnectTimeout},
		{"refused text", fmt.Errorf("dial: connection refused"), CodeConnectRefused},
		{"other", fmt.Errorf("something odd"), CodeConnectFailed},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := Classify(tt.err); got != tt.expected {
				t.Errorf("Classify(%v) = %s, expected %s", tt.err, got, tt.expected)
			}
		})
	}
}

func TestConfigError(t *testing.T) {
	t.Run("field error", func(t *testing.T) {
		err := ErrConfigInvalid("scan.concurrency", -1)
		expected := "[VALIDATION] Invalid configuration value (field: scan.concurrency)"
		if err.Error() != expected {
			t.Errorf("Expected '%s', got '%s'", expected, err.Error())
		}
		if err.Value != -1 {
			t.Errorf("Expected value -1, got %v", err.Value)
		}
	})

	t.Run("missing field", func(t *testing.T) {
		err := ErrConfigMissing("scan.host")
		if err.Code != CodeConfiguration {
			t.Errorf("Expected %s, got %s", CodeConfiguration, err.Code)
		}
	})

	t.Run("wrapped", func(t *testing.T) {
		cause := fmt.Errorf("yaml: bad indent")
		err := WrapConfigError(CodeConfiguration, "failed to parse config", cause)
		if err.Error() != "[CONFIGURATION] failed to parse config" {
			t.Errorf("Unexpected message: %s", err.Error())
		}
		if !errors.Is(err, cause) {
			t.Error("Expected wrapped cause")
		}
	})
}

func TestStoreError(t *testing.T) {
	cause := fmt.Errorf("pq: relation does not exist")
	err := WrapStoreError(CodeDatabaseQuery, "insert scan", cause)
	expected := "[DATABASE_QUERY] Database operation failed (operation: insert scan)"
	if err.Error() != expected {
		t.Errorf("Expected '%s', got '%s'", expected, err.Error())
	}
	if err.Unwrap() != cause {
		t.Error("Unwrap should return the cause")
	}
}

func TestGetCode(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		expected ErrorCode
	}{
		{"probe error", &ProbeError{Code: CodeDNSFailure}, CodeDNSFailure},
		{"config error", ErrConfigMissing("x"), CodeConfiguration},
		{"store error", WrapStoreError(CodeDatabaseConnection, "connect", nil), CodeDatabaseConnection},
		{"wrapped probe error", fmt.Errorf("outer: %w", &ProbeError{Code: CodeConnectTimeout}), CodeConnectTimeout},
		{"plain error", fmt.Errorf("plain"), CodeUnknown},
		{"nil", nil, CodeUnknown},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := GetCode(tt.err); got != tt.expected {
				t.Errorf("Expected %s, got %s", tt.expected, got)
			}
			if !IsCode(tt.err, tt.expected) {
				t.Errorf("IsCode should be true for %s", tt.expected)
			}
		})
	}
}
