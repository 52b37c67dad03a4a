package types

import (
	"errors"
	"fmt"
	"testing"
)

func TestCommentIDStable(t *testing.T) {
	t.Parallel()
	a := CommentID("src", "post", "remote")
	b := CommentID("src", "post", "remote")
	if a != b {
		t.Fatalf("CommentID not stable: %s != %s", a, b)
	}
	if CommentID("src", "post", "other") == a {
		t.Fatalf("different remote ids produced the same key")
	}
	// Field boundaries must not collide.
	if CommentID("sr", "cpost", "remote") == CommentID("src", "post", "remote") {
		t.Fatalf("boundary collision")
	}
}

func TestTaskErrorKind(t *testing.T) {
	t.Parallel()
	cause := errors.New("boom")
	err := fmt.Errorf("wrapped: %w", NewTaskError(KindLeaseHeld, "c1", "held").WithCause(cause))

	if !IsTaskError(err) {
		t.Fatalf("expected task error")
	}
	if !IsKind(err, KindLeaseHeld) {
		t.Fatalf("expected lease_held kind")
	}
	if IsKind(err, KindMissingEntity) {
		t.Fatalf("unexpected missing_entity kind")
	}
	if !errors.Is(err, cause) {
		t.Fatalf("cause not unwrapped")
	}
	if IsTaskError(cause) {
		t.Fatalf("plain error reported as task error")
	}
}
