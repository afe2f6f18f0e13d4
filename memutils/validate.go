package memutils

// Validatable is anything DebugValidate can check: block metadata, command buffer containers and
// in-order counters all report broken invariants through Validate
type Validatable interface {
	Validate() error
}
