package resource

import "testing"

func TestSubStatusTerminal(t *testing.T) {
	cases := map[SubStatus]bool{
		SubTodo:   false,
		SubDone:   true,
		SubError:  true,
		SubCancel: true,
	}
	for status, want := range cases {
		if got := status.Terminal(); got != want {
			t.Errorf("%v.Terminal() = %v, want %v", status, got, want)
		}
	}
}

func TestSubStatusString(t *testing.T) {
	if SubDone.String() != "done" {
		t.Fatalf("SubDone.String() = %q, want done", SubDone.String())
	}
	if SubStatus(99).String() != "unknown" {
		t.Fatalf("expected unknown status to stringify as unknown")
	}
}

func TestRequestKindString(t *testing.T) {
	cases := map[RequestKind]string{
		KindFormat:     "format",
		KindReadAlloc:  "read_alloc",
		KindWriteAlloc: "write_alloc",
		KindRelease:    "release",
	}
	for kind, want := range cases {
		if got := kind.String(); got != want {
			t.Errorf("%v.String() = %q, want %q", kind, got, want)
		}
	}
}
