// Package resource defines the LRS data model: resource identifiers, device
// and medium records, request/sub-request containers, and the sync batch
// triple. These types are pure data — no I/O, no locking beyond what a
// caller already holds — so they can be shared safely between the
// dispatcher, the device workers, and the DSS client.
package resource

import "fmt"

// Family identifies the class of storage medium a resource belongs to.
type Family string

const (
	FamilyTape      Family = "tape"
	FamilyDisk      Family = "disk"
	FamilyRadosPool Family = "rados_pool"
)

// ID is a resource identifier: a (family, name) pair. Equality is
// componentwise, per spec.
type ID struct {
	Family Family
	Name   string
}

func (id ID) String() string {
	return fmt.Sprintf("%s:%s", id.Family, id.Name)
}

// Equal reports componentwise equality.
func (id ID) Equal(other ID) bool {
	return id.Family == other.Family && id.Name == other.Name
}
