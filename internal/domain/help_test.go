package domain

import "testing"

func TestValidFromStatus(t *testing.T) {
	cases := []struct {
		status TaskStatus
		want   bool
	}{
		{StatusPending, true},
		{StatusInProgress, true},
		{StatusInReview, true},
		{StatusAwaitingHuman, false},
		{StatusCompleted, false},
		{StatusCancelled, false},
	}
	for _, c := range cases {
		if got := ValidFromStatus(c.status); got != c.want {
			t.Errorf("ValidFromStatus(%s) = %v, want %v", c.status, got, c.want)
		}
	}
}

func TestValidateChosenOption(t *testing.T) {
	options := []string{"a", "b", "c"}
	if err := ValidateChosenOption(1, options); err != nil {
		t.Errorf("unexpected error for in-range option: %v", err)
	}
	if err := ValidateChosenOption(-1, options); err == nil {
		t.Error("expected error for negative option index")
	}
	if err := ValidateChosenOption(3, options); err == nil {
		t.Error("expected error for out-of-range option index")
	}
}
