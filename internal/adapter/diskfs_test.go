package adapter

import "testing"

func TestParseDumpe2fs(t *testing.T) {
	out := `Filesystem volume name:   vol-001
Block count:              1000000
Block size:               4096
Free blocks:              250000
`
	got := parseDumpe2fs(out)
	wantUsed := int64(750000 * 4096)
	wantFree := int64(250000 * 4096)
	if got.PhysUsedBytes != wantUsed {
		t.Fatalf("PhysUsedBytes = %d, want %d", got.PhysUsedBytes, wantUsed)
	}
	if got.PhysFreeBytes != wantFree {
		t.Fatalf("PhysFreeBytes = %d, want %d", got.PhysFreeBytes, wantFree)
	}
}

func TestParseDumpe2fsIgnoresUnrelatedLines(t *testing.T) {
	out := "Filesystem UUID:          abc-123\nSomething: else: with extra colons\n"
	got := parseDumpe2fs(out)
	if got.PhysUsedBytes != 0 || got.PhysFreeBytes != 0 {
		t.Fatalf("expected zero SpaceInfo for a listing with no block fields, got %+v", got)
	}
}
