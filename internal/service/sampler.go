package service

import (
	"crypto/rand"
	"math/big"

	"github.com/google/uuid"
)

// EntropySource yields uniform integers in [0, n). Implementations must be
// safe for concurrent use.
type EntropySource interface {
	Intn(n int) int
}

// CryptoSource draws from crypto/rand.
type CryptoSource struct{}

// Intn implements EntropySource.
func (CryptoSource) Intn(n int) int {
	v, err := rand.Int(rand.Reader, big.NewInt(int64(n)))
	if err != nil {
		// crypto/rand only fails when the OS entropy source is unusable.
		panic("sampler: crypto/rand: " + err.Error())
	}
	return int(v.Int64())
}

// Sampler picks the fixed question subset for an attempt and shuffles it for display.
type Sampler struct {
	src EntropySource
}

// NewSampler creates a Sampler. A nil src falls back to CryptoSource.
func NewSampler(src EntropySource) *Sampler {
	if src == nil {
		src = CryptoSource{}
	}
	return &Sampler{src: src}
}

// Sample draws k distinct ids from pool uniformly without replacement.
// When the pool holds k or fewer ids (or k <= 0) the whole pool is returned.
// The pool slice is never modified.
func (s *Sampler) Sample(pool []uuid.UUID, k int) ([]uuid.UUID, error) {
	if len(pool) == 0 {
		if k > 0 {
			return nil, ErrInsufficientPool
		}
		return []uuid.UUID{}, nil
	}

	out := make([]uuid.UUID, len(pool))
	copy(out, pool)
	if k <= 0 || len(out) <= k {
		return out, nil
	}

	// Partial Fisher-Yates: the first k slots end up as a uniform k-subset.
	for i := 0; i < k; i++ {
		j := i + s.src.Intn(len(out)-i)
		out[i], out[j] = out[j], out[i]
	}
	return out[:k], nil
}

// Shuffle returns a permuted copy of ids.
func (s *Sampler) Shuffle(ids []uuid.UUID) []uuid.UUID {
	out := make([]uuid.UUID, len(ids))
	copy(out, ids)
	for i := len(out) - 1; i > 0; i-- {
		j := s.src.Intn(i + 1)
		out[i], out[j] = out[j], out[i]
	}
	return out
}
