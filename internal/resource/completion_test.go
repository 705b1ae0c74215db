package resource

import "testing"

func TestCompletionLastWriterFiresOnce(t *testing.T) {
	c := NewCompletion(2)

	if last := c.SetStatus(0, SubDone, 0); last {
		t.Fatal("first of two sub-requests should not be the last writer")
	}
	if last := c.SetStatus(1, SubDone, 0); !last {
		t.Fatal("second sub-request should be the last writer")
	}
	// A redundant terminal re-set must never re-fire lastWriter.
	if last := c.SetStatus(1, SubDone, 0); last {
		t.Fatal("lastWriter must not fire twice for the same completion")
	}
}

func TestCompletionRCFirstNonZeroWins(t *testing.T) {
	c := NewCompletion(3)
	c.SetStatus(0, SubDone, 0)
	c.SetStatus(1, SubError, 5)
	c.SetStatus(2, SubError, 9)

	if c.RC() != 5 {
		t.Fatalf("RC() = %d, want 5 (first non-zero wins)", c.RC())
	}
}

func TestCompletionSetRCOnlySetsOnce(t *testing.T) {
	c := NewCompletion(1)
	c.SetRC(3)
	c.SetRC(7)
	if c.RC() != 3 {
		t.Fatalf("RC() = %d, want 3 (SetRC must not overwrite a set rc)", c.RC())
	}
}

func TestCompletionEndedTracksRemaining(t *testing.T) {
	c := NewCompletion(2)
	if c.Ended() {
		t.Fatal("a fresh completion with pending sub-requests must not be Ended")
	}
	c.SetStatus(0, SubTodo, 0) // non-terminal, must not decrement remaining
	if c.Ended() {
		t.Fatal("a todo status must not count toward Ended")
	}
	c.SetStatus(0, SubDone, 0)
	c.SetStatus(1, SubCancel, 0)
	if !c.Ended() {
		t.Fatal("expected Ended once every sub-request reached a terminal status")
	}
}

func TestCompletionLen(t *testing.T) {
	c := NewCompletion(4)
	if c.Len() != 4 {
		t.Fatalf("Len() = %d, want 4", c.Len())
	}
}

func TestCompletionStatusReflectsLastSet(t *testing.T) {
	c := NewCompletion(1)
	c.SetStatus(0, SubError, 2)
	if c.Status(0) != SubError {
		t.Fatalf("Status(0) = %v, want SubError", c.Status(0))
	}
}
