package errors_test

import (
	"errors"
	"fmt"
	"testing"

	. "gradeline/pkg/errors"
)

func TestErrorCode_Message(t *testing.T) {
	tests := []struct {
		code ErrorCode
		want string
	}{
		{Success, "Success"},
		{SubmissionLocked, "Submission cannot be modified now"},
		{ExecutorUnknown, "Unknown executor machine, register first"},
		{ErrorCode(99999), "Unknown error"},
	}

	for _, tt := range tests {
		t.Run(tt.want, func(t *testing.T) {
			if got := tt.code.Message(); got != tt.want {
				t.Errorf("Message() = %v, want %v", got, tt.want)
			}
		})
	}
}

func TestErrorCode_HTTPStatus(t *testing.T) {
	tests := []struct {
		code       ErrorCode
		wantStatus int
	}{
		{Success, 200},
		{InvalidParams, 400},
		{UnknownTestKind, 400},
		{ExecutorSecretInvalid, 401},
		{Forbidden, 403},
		{SubmissionNotFound, 404},
		{SubmissionLocked, 409},
		{ReuploadNotAllowed, 409},
		{ExecutorUnknown, 412},
		{PollRateExceeded, 429},
		{InvariantViolation, 500},
		{DatabaseError, 500},
		{RequiredFieldEmpty, 400},
	}

	for _, tt := range tests {
		t.Run(tt.code.Message(), func(t *testing.T) {
			if got := tt.code.HTTPStatus(); got != tt.wantStatus {
				t.Errorf("HTTPStatus() = %v, want %v", got, tt.wantStatus)
			}
		})
	}
}

func TestNewf(t *testing.T) {
	err := Newf(SubmissionNotFound, "submission %s not found", "abc")
	if err.Error() != "submission abc not found" {
		t.Errorf("Error() = %v", err.Error())
	}
	if err.Code != SubmissionNotFound {
		t.Errorf("Code = %v, want %v", err.Code, SubmissionNotFound)
	}
}

func TestWrapKeepsCause(t *testing.T) {
	cause := errors.New("connection refused")
	err := Wrap(cause, DatabaseError)

	if !errors.Is(err, cause) {
		t.Fatal("expected wrapped error to match cause")
	}
	if err.Error() != "connection refused" {
		t.Errorf("Error() = %v", err.Error())
	}
}

func TestWrapCodedDoesNotMutateOriginal(t *testing.T) {
	original := New(SubmissionLocked)
	wrapped := Wrap(original, InternalServerError)

	if original.Code != SubmissionLocked {
		t.Fatalf("original code changed to %v", original.Code)
	}
	if wrapped.Code != InternalServerError {
		t.Fatalf("wrapped code = %v", wrapped.Code)
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(nil, DatabaseError) != nil {
		t.Fatal("expected nil")
	}
	if Wrapf(nil, DatabaseError, "x") != nil {
		t.Fatal("expected nil")
	}
}

func TestGetCodeThroughFmtWrap(t *testing.T) {
	err := fmt.Errorf("claim job: %w", New(ExecutorUnknown))
	if got := GetCode(err); got != ExecutorUnknown {
		t.Fatalf("GetCode() = %v, want %v", got, ExecutorUnknown)
	}
	if !Is(err, ExecutorUnknown) {
		t.Fatal("Is() = false")
	}
	if GetCode(errors.New("plain")) != InternalServerError {
		t.Fatal("plain errors should map to internal error")
	}
	if GetCode(nil) != Success {
		t.Fatal("nil should map to success")
	}
}

func TestWithDetails(t *testing.T) {
	err := New(InvalidParams).
		WithDetail("field", "host").
		WithDetails(map[string]interface{}{"reason": "empty"})

	if err.Details["field"] != "host" || err.Details["reason"] != "empty" {
		t.Fatalf("unexpected details: %v", err.Details)
	}
}

func TestInvariant(t *testing.T) {
	err := Invariant("submission %s pending without file", "s1")
	if err.Code != InvariantViolation {
		t.Fatalf("Code = %v", err.Code)
	}
	if err.Stack == "" {
		t.Fatal("expected stack trace")
	}
	if err.Error() != "submission s1 pending without file" {
		t.Fatalf("Error() = %v", err.Error())
	}
}

func TestValidationError(t *testing.T) {
	err := ValidationError("kind", "unsupported")
	if err.Code != ValidationFailed {
		t.Fatalf("Code = %v", err.Code)
	}
	if err.Details["field"] != "kind" {
		t.Fatalf("details = %v", err.Details)
	}
}
