package util

import (
	"errors"
	"fmt"
	"testing"
)

func TestCodedError_Classification(t *testing.T) {
	err := Policyf("locked_out", "account %s is locked", "alice")

	if !errors.Is(err, ErrPolicyViolation) {
		t.Error("policy error should unwrap to ErrPolicyViolation")
	}
	if errors.Is(err, ErrTransient) {
		t.Error("policy error should not match ErrTransient")
	}
	if got := Code(err); got != "locked_out" {
		t.Errorf("Code() = %q, want %q", got, "locked_out")
	}
}

func TestCode_Wrapped(t *testing.T) {
	inner := NotFoundf("unknown_job", "no such job %q", "j1")
	outer := fmt.Errorf("registering: %w", inner)

	if got := Code(outer); got != "unknown_job" {
		t.Errorf("Code() through wrap = %q, want %q", got, "unknown_job")
	}
	if !errors.Is(outer, ErrNotFound) {
		t.Error("wrapped error should still match ErrNotFound")
	}
}

func TestCode_Plain(t *testing.T) {
	if got := Code(errors.New("boom")); got != "internal" {
		t.Errorf("Code(plain) = %q, want %q", got, "internal")
	}
}

func TestValidationBuilder(t *testing.T) {
	var v ValidationBuilder
	v.Add(true, "should not appear")
	v.Add(false, "timeout must be positive")
	v.AddErrorf("retries must be >= 0, got %d", -1)

	if !v.HasErrors() {
		t.Fatal("builder should have errors")
	}
	err := v.Build()
	if err == nil {
		t.Fatal("Build() should return error")
	}
	if !errors.Is(err, ErrInvalidInput) {
		t.Error("validation error should unwrap to ErrInvalidInput")
	}

	var empty ValidationBuilder
	if empty.Build() != nil {
		t.Error("empty builder should build nil")
	}
}
