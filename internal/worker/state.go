package worker

import (
	"fmt"

	"github.com/phobos-lrs/lrs/internal/resource"
)

// ThreadState is the worker's own lifecycle state, distinct from the
// device's OpStatus (which is the drive's mechanical state). A worker
// moves running -> stopping -> stopped on shutdown, independent of
// whatever OpStatus its device was last left in.
type ThreadState int

const (
	ThreadRunning ThreadState = iota
	ThreadStopping
	ThreadStopped
)

// transition validates and applies an OpStatus change, refusing any
// transition out of OpFailed (terminal, §4.C) and any transition that
// violates the load/mount partial order.
func transition(from, to resource.OpStatus) error {
	if from == resource.OpFailed {
		return fmt.Errorf("worker: device is failed, terminal until admin reset")
	}
	switch to {
	case resource.OpEmpty:
		// unload, from loaded only
		if from != resource.OpLoaded {
			return fmt.Errorf("worker: cannot unload from state %q", from)
		}
	case resource.OpLoaded:
		// load (from empty) or umount (from mounted)
		if from != resource.OpEmpty && from != resource.OpMounted {
			return fmt.Errorf("worker: cannot reach loaded from state %q", from)
		}
	case resource.OpMounted:
		if from != resource.OpLoaded {
			return fmt.Errorf("worker: cannot mount from state %q", from)
		}
	case resource.OpFailed:
		// any non-terminal state may fail
	default:
		return fmt.Errorf("worker: unknown target state %q", to)
	}
	return nil
}
