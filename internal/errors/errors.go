// Package errors provides structured error handling for portprobe operations.
// It defines error codes, coded error types for probes and configuration,
// and the classification of raw dial errors into those codes.
package errors

import (
	"context"
	stderrors "errors"
	"fmt"
	"net"
	"os"
	"strings"
	"syscall"
)

// ErrorCode represents different types of errors that can occur.
type ErrorCode string

const (
	// General errors.
	CodeUnknown       ErrorCode = "UNKNOWN"
	CodeValidation    ErrorCode = "VALIDATION"
	CodeConfiguration ErrorCode = "CONFIGURATION"
	CodeCanceled      ErrorCode = "CANCELED"

	// Connect errors.
	CodeConnectRefused  ErrorCode = "CONNECT_REFUSED"
	CodeConnectTimeout  ErrorCode = "CONNECT_TIMEOUT"
	CodeDNSFailure      ErrorCode = "DNS_FAILURE"
	CodeHostUnreachable ErrorCode = "HOST_UNREACHABLE"
	CodeConnectionReset ErrorCode = "CONNECTION_RESET"
	CodeConnectFailed   ErrorCode = "CONNECT_FAILED"

	// Storage errors.
	CodeDatabaseConnection ErrorCode = "DATABASE_CONNECTION"
	CodeDatabaseQuery      ErrorCode = "DATABASE_QUERY"

	// Output errors.
	CodeFileWrite ErrorCode = "FILE_WRITE"
)

// ProbeError describes why a single port could not be reported open.
type ProbeError struct {
	Code   ErrorCode
	Target string
	Port   int
	Cause  error
}

// Error implements the error interface.
func (e *ProbeError) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s:%d: %v", e.Code, e.Target, e.Port, e.Cause)
	}
	return fmt.Sprintf("[%s] %s:%d", e.Code, e.Target, e.Port)
}

// Unwrap returns the underlying error for error unwrapping.
func (e *ProbeError) Unwrap() error {
	return e.Cause
}

// Refused reports whether the remote host actively refused the connection.
func (e *ProbeError) Refused() bool {
	return e.Code == CodeConnectRefused
}

// NewProbeError wraps a dial failure for target:port, classifying its code.
func NewProbeError(target string, port int, err error) *ProbeError {
	return &ProbeError{
		Code:   Classify(err),
		Target: target,
		Port:   port,
		Cause:  err,
	}
}

// ConfigError represents configuration-related errors.
type ConfigError struct {
	Code    ErrorCode
	Message string
	Field   string
	Value   interface{}
	Cause   error
}

// Error implements the error interface.
func (e *ConfigError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("[%s] %s (field: %s)", e.Code, e.Message, e.Field)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *ConfigError) Unwrap() error {
	return e.Cause
}

// NewConfigFieldError creates a configuration error for a specific field.
func NewConfigFieldError(code ErrorCode, message, field string, value interface{}) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Field:   field,
		Value:   value,
	}
}

// WrapConfigError wraps an existing error as a configuration error.
func WrapConfigError(code ErrorCode, message string, err error) *ConfigError {
	return &ConfigError{
		Code:    code,
		Message: message,
		Cause:   err,
	}
}

// StoreError represents persistence errors.
type StoreError struct {
	Code      ErrorCode
	Message   string
	Operation string
	Cause     error
}

// Error implements the error interface.
func (e *StoreError) Error() string {
	if e.Operation != "" {
		return fmt.Sprintf("[%s] %s (operation: %s)", e.Code, e.Message, e.Operation)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying error.
func (e *StoreError) Unwrap() error {
	return e.Cause
}

// WrapStoreError wraps an existing error as a store error.
func WrapStoreError(code ErrorCode, operation string, err error) *StoreError {
	return &StoreError{
		Code:      code,
		Message:   "Database operation failed",
		Operation: operation,
		Cause:     err,
	}
}

// OutputError represents failures writing reports to disk.
type OutputError struct {
	Code  ErrorCode
	Path  string
	Cause error
}

// Error implements the error interface.
func (e *OutputError) Error() string {
	return fmt.Sprintf("[%s] %s: %v", e.Code, e.Path, e.Cause)
}

// Unwrap returns the underlying error.
func (e *OutputError) Unwrap() error {
	return e.Cause
}

// ErrFileWrite wraps a failed write to path.
func ErrFileWrite(path string, err error) *OutputError {
	return &OutputError{Code: CodeFileWrite, Path: path, Cause: err}
}

// Classify maps a raw connect error onto an error code.
func Classify(err error) ErrorCode {
	if err == nil {
		return CodeUnknown
	}

	if stderrors.Is(err, context.Canceled) {
		return CodeCanceled
	}
	if stderrors.Is(err, context.DeadlineExceeded) || stderrors.Is(err, os.ErrDeadlineExceeded) {
		return CodeConnectTimeout
	}

	var dnsErr *net.DNSError
	if stderrors.As(err, &dnsErr) {
		if dnsErr.IsTimeout {
			return CodeConnectTimeout
		}
		return CodeDNSFailure
	}

	switch {
	case stderrors.Is(err, syscall.ECONNREFUSED):
		return CodeConnectRefused
	case stderrors.Is(err, syscall.ECONNRESET):
		return CodeConnectionReset
	case stderrors.Is(err, syscall.EHOSTUNREACH), stderrors.Is(err, syscall.ENETUNREACH):
		return CodeHostUnreachable
	}

	var netErr net.Error
	if stderrors.As(err, &netErr) && netErr.Timeout() {
		return CodeConnectTimeout
	}

	// Some platforms only surface the refusal in the message.
	if strings.Contains(err.Error(), "connection refused") {
		return CodeConnectRefused
	}

	return CodeConnectFailed
}

// IsCode checks if an error has a specific error code.
func IsCode(err error, code ErrorCode) bool {
	return GetCode(err) == code
}

// GetCode extracts the error code from an error if it has one.
func GetCode(err error) ErrorCode {
	var probeErr *ProbeError
	if stderrors.As(err, &probeErr) {
		return probeErr.Code
	}
	var cfgErr *ConfigError
	if stderrors.As(err, &cfgErr) {
		return cfgErr.Code
	}
	var storeErr *StoreError
	if stderrors.As(err, &storeErr) {
		return storeErr.Code
	}
	var outErr *OutputError
	if stderrors.As(err, &outErr) {
		return outErr.Code
	}
	return CodeUnknown
}

// ErrConfigInvalid creates an error for invalid configuration.
func ErrConfigInvalid(field string, value interface{}) *ConfigError {
	return NewConfigFieldError(CodeValidation, "Invalid configuration value", field, value)
}

// ErrConfigMissing creates an error for missing required configuration.
func ErrConfigMissing(field string) *ConfigError {
	return NewConfigFieldError(CodeConfiguration, "Required configuration field missing", field, nil)
}
