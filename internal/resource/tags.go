package resource

// Tags is a medium's tag set, used by write-allocation candidate filtering.
// Grounded on original_source/src/include/pho_common.h's tag-set-by-subset
// matching rule (lrs_device.c filters write-allocation candidates by tag
// subset before dispatch).
type Tags []string

// Contains reports whether t contains tag.
func (t Tags) Contains(tag string) bool {
	for _, x := range t {
		if x == tag {
			return true
		}
	}
	return false
}

// SupersetOf reports whether t contains every tag in required.
func (t Tags) SupersetOf(required []string) bool {
	for _, r := range required {
		if !t.Contains(r) {
			return false
		}
	}
	return true
}
