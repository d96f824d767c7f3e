package recordmodel

// Transform groups operations applied together; the log records only
// its id. Options are opaque, source-specific hints (e.g. which
// secondary key to prefer) carried alongside the operations.
type Transform struct {
	ID         string
	Operations []Operation
	Options    map[string]any
}
