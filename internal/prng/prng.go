// Package prng provides a deterministic io.Reader used to seed
// go-faker's crypto source in tests, so generated fixture data (and any
// UUIDs faker derives from it) is reproducible across runs. Kept
// verbatim from the teacher's pkg/prng, which existed for exactly this
// purpose (see cmd/faker_test's demonstration of faker.SetCryptoSource
// order-dependence); internal/testdb/fixtures.SeedDeterministic is its
// one call site in this module.
package prng

import (
	"encoding/binary"
	"io"
	"math/rand"
)

// Reader is a deterministic io.Reader backed by a math/rand RNG.
type Reader struct {
	r *rand.Rand
}

// New returns a new deterministic PRNG reader seeded by an integer.
func New(seed int64) io.Reader {
	return &Reader{r: rand.New(rand.NewSource(seed))}
}

// Read fills p with pseudorandom bytes.
func (r *Reader) Read(p []byte) (int, error) {
	n := len(p)
	var buf [8]byte
	for i := 0; i < n; i += 8 {
		v := r.r.Int63()
		binary.LittleEndian.PutUint64(buf[:], uint64(v))
		copy(p[i:], buf[:])
	}
	return n, nil
}
