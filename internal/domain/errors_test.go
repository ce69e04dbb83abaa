package domain

import "testing"

func TestErrorFormatting(t *testing.T) {
	err := NotFound("task", "task_abc")
	if err.Code != ErrNotFound {
		t.Errorf("Code = %s, want %s", err.Code, ErrNotFound)
	}
	want := "not_found: task task_abc not found"
	if err.Error() != want {
		t.Errorf("Error() = %q, want %q", err.Error(), want)
	}
}

func TestIsNotFound(t *testing.T) {
	if !IsNotFound(NotFound("repo", "r1")) {
		t.Error("IsNotFound should be true for a not_found Error")
	}
	if IsNotFound(Conflict("boom")) {
		t.Error("IsNotFound should be false for a conflict Error")
	}
	if IsNotFound(nil) {
		t.Error("IsNotFound should be false for a nil error")
	}
}

func TestErrorWithDetailAndCorrelation(t *testing.T) {
	err := InvalidInput("bad field").WithDetail("field", "name").WithCorrelation("corr-1")
	if err.Details["field"] != "name" {
		t.Errorf("Details[field] = %q, want %q", err.Details["field"], "name")
	}
	if err.CorrelationID != "corr-1" {
		t.Errorf("CorrelationID = %q, want %q", err.CorrelationID, "corr-1")
	}
}
