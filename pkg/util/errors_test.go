package util

import (
	"errors"
	"fmt"
	"strings"
	"testing"
)

func TestConnectError(t *testing.T) {
	cause := errors.New("connection refused")
	err := NewConnectError("edge1", "10.0.0.1:22", cause)

	msg := err.Error()
	if !strings.Contains(msg, "edge1") || !strings.Contains(msg, "10.0.0.1:22") {
		t.Errorf("Error message should name device and address: %s", msg)
	}
	if !errors.Is(err, ErrConnect) {
		t.Error("ConnectError should unwrap to ErrConnect")
	}
	if !errors.Is(err, cause) {
		t.Error("ConnectError should unwrap to its cause")
	}

	// Survives %w wrapping
	wrapped := fmt.Errorf("opening session: %w", err)
	var ce *ConnectError
	if !errors.As(wrapped, &ce) {
		t.Fatal("errors.As should find *ConnectError through wrapping")
	}
	if ce.Device != "edge1" {
		t.Errorf("Device = %q, want edge1", ce.Device)
	}
}

func TestCommandError(t *testing.T) {
	err := NewCommandError("edge1", "tacacs server S1", "% Invalid input detected at '^' marker.")
	if !errors.Is(err, ErrCommandRejected) {
		t.Error("CommandError should unwrap to ErrCommandRejected")
	}
	if !strings.Contains(err.Error(), "tacacs server S1") {
		t.Errorf("Error message should contain the command: %s", err.Error())
	}

	long := NewCommandError("edge1", "x", strings.Repeat("z", 500))
	if len(long.Error()) > 200 {
		t.Errorf("long responses should be truncated, got %d bytes", len(long.Error()))
	}
}

func TestVerificationAndLedgerErrors(t *testing.T) {
	v := NewVerificationError("edge1", "ISE", "S0@10.0.0.1", "absent")
	if !errors.Is(v, ErrVerificationMismatch) {
		t.Error("VerificationError should unwrap to ErrVerificationMismatch")
	}

	cause := errors.New("disk full")
	l := NewLedgerIOError("/var/lib/newtauth/cleanup.jsonl", cause)
	if !errors.Is(l, ErrLedgerIO) {
		t.Error("LedgerIOError should unwrap to ErrLedgerIO")
	}
	if !errors.Is(l, cause) {
		t.Error("LedgerIOError should unwrap to its cause")
	}
}

func TestValidationError(t *testing.T) {
	t.Run("single error", func(t *testing.T) {
		err := NewValidationError("field is required")
		msg := err.Error()
		if !strings.Contains(msg, "field is required") {
			t.Errorf("Error message should contain the error: %s", msg)
		}
		if !errors.Is(err, ErrValidationFailed) {
			t.Errorf("ValidationError should unwrap to ErrValidationFailed")
		}
	})

	t.Run("multiple errors", func(t *testing.T) {
		err := NewValidationError("field1 is required", "field2 is invalid", "field3 out of range")
		msg := err.Error()
		if !strings.Contains(msg, "field1") || !strings.Contains(msg, "field2") || !strings.Contains(msg, "field3") {
			t.Errorf("Error message should contain all errors: %s", msg)
		}
	})
}

func TestValidationBuilder(t *testing.T) {
	t.Run("no errors", func(t *testing.T) {
		v := &ValidationBuilder{}
		v.Add(true, "this should not appear")

		if v.HasErrors() {
			t.Error("Should not have errors when all conditions are true")
		}
		if err := v.Build(); err != nil {
			t.Errorf("Build() should return nil when no errors: %v", err)
		}
	})

	t.Run("with errors", func(t *testing.T) {
		v := &ValidationBuilder{}
		v.Add(false, "first error")
		v.Add(true, "this passes")
		v.AddError("unconditional error")
		v.AddErrorf("formatted error: %d", 42)

		err := v.Build()
		if err == nil {
			t.Fatal("Build() should return error")
		}
		validationErr, ok := err.(*ValidationError)
		if !ok {
			t.Fatalf("Expected *ValidationError, got %T", err)
		}
		if len(validationErr.Errors) != 3 {
			t.Errorf("Expected 3 errors, got %d", len(validationErr.Errors))
		}
	})
}

func TestSentinelErrors(t *testing.T) {
	sentinels := []error{
		ErrConnect,
		ErrCommandRejected,
		ErrVerificationMismatch,
		ErrLedgerIO,
		ErrDeviceLocked,
		ErrNotConnected,
		ErrValidationFailed,
		ErrChecksumMismatch,
	}

	for i, err1 := range sentinels {
		for j, err2 := range sentinels {
			if i != j && errors.Is(err1, err2) {
				t.Errorf("Sentinel errors should be distinct: %v == %v", err1, err2)
			}
		}
	}
}
