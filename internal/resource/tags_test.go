package resource

import "testing"

func TestTagsContains(t *testing.T) {
	tags := Tags{"fast", "encrypted"}
	if !tags.Contains("fast") {
		t.Fatal("expected tags to contain fast")
	}
	if tags.Contains("slow") {
		t.Fatal("expected tags to not contain slow")
	}
}

func TestTagsSupersetOf(t *testing.T) {
	tags := Tags{"fast", "encrypted", "offsite"}
	if !tags.SupersetOf([]string{"fast", "encrypted"}) {
		t.Fatal("expected a superset match for a subset of required tags")
	}
	if tags.SupersetOf([]string{"fast", "slow"}) {
		t.Fatal("expected no match when a required tag is missing")
	}
}

func TestTagsSupersetOfEmptyRequiredAlwaysMatches(t *testing.T) {
	if !(Tags{}).SupersetOf(nil) {
		t.Fatal("an empty required tag list must always match")
	}
}
