// Package idgen generates local record ids. The schema owns id
// generation — the KeyMap never mints ids — and this package is the
// swappable strategy behind that, defaulting to UUIDs but injectable
// for deterministic tests.
package idgen

import "github.com/google/uuid"

// Generator produces new local ids for a record type.
type Generator interface {
	NewID(recordType string) string
}

// UUIDGenerator is the default Generator: a fresh random UUID per call,
// independent of record type.
type UUIDGenerator struct{}

// NewID returns a new random UUID string.
func (UUIDGenerator) NewID(string) string {
	return uuid.New().String()
}

// Default is the package-level default generator, swappable in tests.
var Default Generator = UUIDGenerator{}

// NewID generates an id using the Default generator.
func NewID(recordType string) string {
	return Default.NewID(recordType)
}

// SequentialGenerator produces deterministic, monotonically increasing
// ids of the form "<recordType>-<n>", for tests that need stable,
// reproducible ids across runs instead of random UUIDs.
type SequentialGenerator struct {
	counters map[string]int
}

// NewSequentialGenerator returns a SequentialGenerator starting each
// record type's counter at 1.
func NewSequentialGenerator() *SequentialGenerator {
	return &SequentialGenerator{counters: map[string]int{}}
}

// NewID returns the next id for recordType.
func (g *SequentialGenerator) NewID(recordType string) string {
	g.counters[recordType]++
	return formatSeq(recordType, g.counters[recordType])
}

func formatSeq(recordType string, n int) string {
	return recordType + "-" + itoa(n)
}

// itoa avoids importing strconv for a single call site, matching the
// teacher's internal/idgen preference for small local helpers over
// extra imports in leaf packages.
func itoa(n int) string {
	if n == 0 {
		return "0"
	}
	neg := n < 0
	if neg {
		n = -n
	}
	var buf [20]byte
	i := len(buf)
	for n > 0 {
		i--
		buf[i] = byte('0' + n%10)
		n /= 10
	}
	if neg {
		i--
		buf[i] = '-'
	}
	return string(buf[i:])
}
