package queue

import (
	"errors"
	"fmt"
	"testing"
)

func TestDuplicatePolicy(t *testing.T) {
	t.Parallel()

	other := errors.New("disk full")
	wrapped := fmt.Errorf("enqueue poll: %w", ErrTaskExists)

	tests := []struct {
		name   string
		policy DuplicatePolicy
		in     error
		want   error
	}{
		{"ignore nil", DuplicateIgnore, nil, nil},
		{"ignore exists", DuplicateIgnore, ErrTaskExists, nil},
		{"ignore wrapped exists", DuplicateIgnore, wrapped, nil},
		{"ignore other", DuplicateIgnore, other, other},
		{"fail exists", DuplicateFail, ErrTaskExists, ErrTaskExists},
		{"fail other", DuplicateFail, other, other},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := tt.policy.Apply(tt.in)
			if !errors.Is(got, tt.want) || (tt.want == nil && got != nil) {
				t.Fatalf("Apply(%v) = %v, want %v", tt.in, got, tt.want)
			}
		})
	}
}

func TestParseDuplicatePolicy(t *testing.T) {
	t.Parallel()

	for in, want := range map[string]DuplicatePolicy{"": DuplicateIgnore, "ignore": DuplicateIgnore, " FAIL ": DuplicateFail} {
		got, err := ParseDuplicatePolicy(in)
		if err != nil || got != want {
			t.Fatalf("ParseDuplicatePolicy(%q) = %q, %v", in, got, err)
		}
	}
	if _, err := ParseDuplicatePolicy("replace"); err == nil {
		t.Fatal("expected error for unknown policy")
	}
}

func TestRetryCount(t *testing.T) {
	t.Parallel()
	for attempts, want := range map[int]int{0: 0, 1: 0, 2: 1, 5: 4} {
		task := &Task{Attempts: attempts}
		if got := task.RetryCount(); got != want {
			t.Fatalf("RetryCount(attempts=%d) = %d, want %d", attempts, got, want)
		}
	}
}
