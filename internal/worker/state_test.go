package worker

import (
	"testing"

	"github.com/phobos-lrs/lrs/internal/resource"
)

func TestTransitionLoadFromEmpty(t *testing.T) {
	if err := transition(resource.OpEmpty, resource.OpLoaded); err != nil {
		t.Fatalf("load from empty should be legal: %v", err)
	}
}

func TestTransitionMountFromLoaded(t *testing.T) {
	if err := transition(resource.OpLoaded, resource.OpMounted); err != nil {
		t.Fatalf("mount from loaded should be legal: %v", err)
	}
}

func TestTransitionMountFromEmptyRefused(t *testing.T) {
	if err := transition(resource.OpEmpty, resource.OpMounted); err == nil {
		t.Fatalf("mount from empty should be refused")
	}
}

func TestTransitionUnloadFromMountedRefused(t *testing.T) {
	if err := transition(resource.OpMounted, resource.OpEmpty); err == nil {
		t.Fatalf("unload from mounted should be refused; umount first")
	}
}

func TestTransitionOutOfFailedRefused(t *testing.T) {
	if err := transition(resource.OpFailed, resource.OpEmpty); err == nil {
		t.Fatalf("no transition out of failed should be allowed")
	}
}

func TestTransitionIntoFailedAlwaysLegal(t *testing.T) {
	for _, from := range []resource.OpStatus{resource.OpEmpty, resource.OpLoaded, resource.OpMounted} {
		if err := transition(from, resource.OpFailed); err != nil {
			t.Fatalf("transition to failed from %q should be legal: %v", from, err)
		}
	}
}
