// Package util provides logging, the migration error taxonomy, and small helpers.
package util

import (
	"errors"
	"fmt"
	"strings"
)

// Sentinel errors for the migration error taxonomy
var (
	ErrConnect              = errors.New("session could not be established")
	ErrCommandRejected      = errors.New("device rejected command")
	ErrVerificationMismatch = errors.New("configuration did not match expected state")
	ErrLedgerIO             = errors.New("cleanup ledger write failed")
	ErrDeviceLocked         = errors.New("device is locked by another holder")
	ErrNotConnected         = errors.New("session not connected")
	ErrCommandTimeout       = errors.New("command timed out")
	ErrValidationFailed     = errors.New("validation failed")
	ErrChecksumMismatch     = errors.New("checksum mismatch")
)

// ConnectError is returned when a session to a device cannot be established
// or is lost mid-run. Always recoverable at the device level.
type ConnectError struct {
	Device string
	Addr   string
	Err    error
}

func (e *ConnectError) Error() string {
	return fmt.Sprintf("connect %s (%s): %v", e.Device, e.Addr, e.Err)
}

func (e *ConnectError) Unwrap() []error {
	return []error{ErrConnect, e.Err}
}

// NewConnectError creates a connect error
func NewConnectError(device, addr string, err error) *ConnectError {
	return &ConnectError{Device: device, Addr: addr, Err: err}
}

// CommandError is returned when the device answers a configuration command
// with one of the platform's error tokens.
type CommandError struct {
	Device   string
	Command  string
	Response string
}

func (e *CommandError) Error() string {
	resp := strings.TrimSpace(e.Response)
	if len(resp) > 120 {
		resp = resp[:120] + "..."
	}
	return fmt.Sprintf("%s rejected %q: %s", e.Device, e.Command, resp)
}

func (e *CommandError) Unwrap() error {
	return ErrCommandRejected
}

// NewCommandError creates a command error
func NewCommandError(device, command, response string) *CommandError {
	return &CommandError{Device: device, Command: command, Response: response}
}

// VerificationError reports a re-read of the device configuration that does
// not match what the preceding commands should have produced.
type VerificationError struct {
	Device   string
	Group    string
	Entry    string
	Expected string
}

func (e *VerificationError) Error() string {
	return fmt.Sprintf("verification failed on %s: group %s entry %s: expected %s", e.Device, e.Group, e.Entry, e.Expected)
}

func (e *VerificationError) Unwrap() error {
	return ErrVerificationMismatch
}

// NewVerificationError creates a verification error
func NewVerificationError(device, group, entry, expected string) *VerificationError {
	return &VerificationError{Device: device, Group: group, Entry: entry, Expected: expected}
}

// LedgerIOError wraps a failure to durably persist a cleanup record.
type LedgerIOError struct {
	Path string
	Err  error
}

func (e *LedgerIOError) Error() string {
	return fmt.Sprintf("cleanup ledger %s: %v", e.Path, e.Err)
}

func (e *LedgerIOError) Unwrap() []error {
	return []error{ErrLedgerIO, e.Err}
}

// NewLedgerIOError creates a ledger I/O error
func NewLedgerIOError(path string, err error) *LedgerIOError {
	return &LedgerIOError{Path: path, Err: err}
}

// ValidationError represents one or more validation failures
type ValidationError struct {
	Errors []string
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return "validation failed: " + e.Errors[0]
	}
	return fmt.Sprintf("validation failed:\n  - %s", strings.Join(e.Errors, "\n  - "))
}

func (e *ValidationError) Unwrap() error {
	return ErrValidationFailed
}

// NewValidationError creates a validation error from messages
func NewValidationError(messages ...string) *ValidationError {
	return &ValidationError{Errors: messages}
}

// ValidationBuilder helps accumulate validation errors
type ValidationBuilder struct {
	errors []string
}

// Add adds an error message if condition is false
func (v *ValidationBuilder) Add(condition bool, message string) *ValidationBuilder {
	if !condition {
		v.errors = append(v.errors, message)
	}
	return v
}

// AddError adds an error message unconditionally
func (v *ValidationBuilder) AddError(message string) *ValidationBuilder {
	v.errors = append(v.errors, message)
	return v
}

// AddErrorf adds a formatted error message
func (v *ValidationBuilder) AddErrorf(format string, args ...interface{}) *ValidationBuilder {
	v.errors = append(v.errors, fmt.Sprintf(format, args...))
	return v
}

// HasErrors returns true if there are validation errors
func (v *ValidationBuilder) HasErrors() bool {
	return len(v.errors) > 0
}

// Build returns the validation error or nil if no errors
func (v *ValidationBuilder) Build() error {
	if len(v.errors) == 0 {
		return nil
	}
	return &ValidationError{Errors: v.errors}
}
