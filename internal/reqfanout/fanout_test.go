package reqfanout

import (
	"testing"
	"time"

	"github.com/phobos-lrs/lrs/internal/resource"
)

func TestNormalizeFormat(t *testing.T) {
	req := &resource.Request{
		ID:      "r1",
		Arrival: time.Now(),
		Kind:    resource.KindFormat,
		Format: &resource.FormatPayload{
			Medium: resource.ID{Family: resource.FamilyTape, Name: "M0001"},
			FSType: "ltfs",
		},
	}

	subs, err := Normalize(req)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(subs) != 1 {
		t.Fatalf("expected 1 sub-request, got %d", len(subs))
	}
	if subs[0].Medium == nil || !subs[0].Medium.Equal(req.Format.Medium) {
		t.Fatalf("sub-request medium mismatch: %+v", subs[0].Medium)
	}
	if req.Completion == nil || req.Completion.Len() != 1 {
		t.Fatalf("expected completion of length 1")
	}
}

func TestNormalizeReadAllocFansOut(t *testing.T) {
	req := &resource.Request{
		ID:      "r2",
		Arrival: time.Now(),
		Kind:    resource.KindReadAlloc,
		ReadAlloc: &resource.ReadAllocPayload{
			Required: 3,
		},
	}

	subs, err := Normalize(req)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(subs) != 3 {
		t.Fatalf("expected 3 sub-requests, got %d", len(subs))
	}
	for i, s := range subs {
		if s.Medium != nil {
			t.Fatalf("sub-request %d should have unbound medium", i)
		}
		if s.MediumIndex != i {
			t.Fatalf("sub-request %d has wrong index %d", i, s.MediumIndex)
		}
	}
}

func TestNormalizeReleasePerEntry(t *testing.T) {
	req := &resource.Request{
		ID:      "r3",
		Arrival: time.Now(),
		Kind:    resource.KindRelease,
		Release: &resource.ReleasePayload{
			Entries: []resource.ReleaseEntry{
				{Medium: resource.ID{Family: resource.FamilyTape, Name: "A"}, WrittenSize: 100, ToSync: true},
				{Medium: resource.ID{Family: resource.FamilyTape, Name: "B"}, WrittenSize: 200},
			},
		},
	}

	subs, err := Normalize(req)
	if err != nil {
		t.Fatalf("Normalize: %v", err)
	}
	if len(subs) != 2 {
		t.Fatalf("expected 2 sub-requests, got %d", len(subs))
	}
	if subs[0].WrittenSize != 100 || !subs[0].ToSync {
		t.Fatalf("sub-request 0 mismatch: %+v", subs[0])
	}
	if subs[1].WrittenSize != 200 || subs[1].ToSync {
		t.Fatalf("sub-request 1 mismatch: %+v", subs[1])
	}
}

func TestNormalizeRejectsMissingPayload(t *testing.T) {
	req := &resource.Request{ID: "r4", Kind: resource.KindWriteAlloc}
	if _, err := Normalize(req); err == nil {
		t.Fatal("expected error for missing write_alloc payload")
	}
}

func TestFilterByTags(t *testing.T) {
	candidates := []resource.Medium{
		{ID: resource.ID{Family: resource.FamilyTape, Name: "A"}, Tags: resource.Tags{"fast"}},
		{ID: resource.ID{Family: resource.FamilyTape, Name: "B"}, Tags: resource.Tags{"fast", "encrypted"}},
		{ID: resource.ID{Family: resource.FamilyTape, Name: "C"}, Tags: resource.Tags{"slow"}},
	}

	got := FilterByTags(candidates, []string{"fast"})
	if len(got) != 2 {
		t.Fatalf("expected 2 matches, got %d", len(got))
	}

	got = FilterByTags(candidates, nil)
	if len(got) != 3 {
		t.Fatalf("expected passthrough of all 3 candidates, got %d", len(got))
	}
}
