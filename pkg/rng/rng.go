// Package rng provides the cryptographically secure random byte source
// pad blocks are generated from. The quality of randomness here is
// load-bearing for the one-time-pad security property: any block filled
// from a weak generator can be distinguished from true randomness, which
// breaks the pad's guarantees for every plaintext it ever encrypts.
package rng

import (
	"context"
	crand "crypto/rand"
	"fmt"
	mrand "math/rand"
	"sync"

	"github.com/jladdjr/penpal/pkg/trace"
)

// RNG is implemented by every random byte source penpal can draw pad
// content from. Read must fill p completely or return an error; partial
// fills are never silently accepted by callers.
type RNG interface {
	Read(ctx context.Context, p []byte) (n int, err error)
}

// CryptoRNG is the operating-system source that every production RNG
// includes (NewDefaultRNG mixes it with a MathRNG). It reads directly
// from the operating system's cryptographic random facility via
// crypto/rand and fails only if that facility is unavailable.
type CryptoRNG struct {
	lock sync.Mutex
}

func (r *CryptoRNG) Read(ctx context.Context, p []byte) (int, error) {
	log := trace.FromContext(ctx).WithPrefix("CRYPTO-RNG")
	log.Debugf("reading %d bytes from crypto/rand", len(p))

	r.lock.Lock()
	defer r.lock.Unlock()

	n, err := crand.Read(p)
	if err != nil {
		log.Error(fmt.Errorf("crypto/rand read failed: %w", err))
		return n, fmt.Errorf("crypto/rand read failed: %w", err)
	}
	return n, nil
}

// MathRNG is a math/rand source seeded from crypto/rand. It never fails
// and is combined with CryptoRNG by MultiRNG for defense in depth; it must
// never be used standalone to fill a pad block.
type MathRNG struct {
	src  *mrand.Rand
	lock sync.Mutex
}

// NewMathRNG seeds a MathRNG from crypto/rand.
func NewMathRNG() *MathRNG {
	var seed int64
	b := make([]byte, 8)
	if _, err := crand.Read(b); err == nil {
		for i := 0; i < 8; i++ {
			seed = (seed << 8) | int64(b[i])
		}
	}
	return &MathRNG{src: mrand.New(mrand.NewSource(seed))}
}

func (mr *MathRNG) Read(ctx context.Context, p []byte) (int, error) {
	log := trace.FromContext(ctx).WithPrefix("MATH-RNG")
	log.Debugf("reading %d bytes from math/rand", len(p))

	mr.lock.Lock()
	defer mr.lock.Unlock()

	for i := range p {
		p[i] = byte(mr.src.Intn(256))
	}
	return len(p), nil
}

// MultiRNG XORs the output of every source together. Because MathRNG never
// errors, the combined failure mode is exactly CryptoRNG's: the guarantee
// that randomness generation "fails only if the OS facility is
// unavailable" is preserved, while XOR-mixing in an independent source
// cannot reduce the entropy below what the CSPRNG alone supplies.
type MultiRNG struct {
	Sources []RNG
	lock    sync.Mutex
}

func (m *MultiRNG) Read(ctx context.Context, p []byte) (int, error) {
	log := trace.FromContext(ctx).WithPrefix("MULTI-RNG")
	log.Debugf("generating %d bytes from %d sources", len(p), len(m.Sources))

	m.lock.Lock()
	defer m.lock.Unlock()

	acc := make([]byte, len(p))
	tmp := make([]byte, len(p))
	for i, s := range m.Sources {
		n, err := s.Read(ctx, tmp)
		if err != nil {
			log.Error(fmt.Errorf("source #%d failed: %w", i+1, err))
			return 0, fmt.Errorf("source #%d failed: %w", i+1, err)
		}
		if n != len(tmp) {
			return 0, fmt.Errorf("source #%d returned short read: %d of %d", i+1, n, len(tmp))
		}
		for j := range p {
			acc[j] ^= tmp[j]
		}
	}
	copy(p, acc)
	return len(p), nil
}

// NewDefaultRNG returns the production randomness source: a CryptoRNG
// mixed with a crypto-seeded MathRNG.
func NewDefaultRNG() RNG {
	return &MultiRNG{
		Sources: []RNG{
			&CryptoRNG{},
			NewMathRNG(),
		},
	}
}
