package raffle

import (
	"context"
	crand "crypto/rand"
	"encoding/binary"
)

// EntropySource supplies the unpredictable half of a draw seed.
type EntropySource interface {
	Draw(ctx context.Context) (uint64, error)
}

// CryptoEntropy draws from the operating system's entropy pool.
type CryptoEntropy struct{}

func (CryptoEntropy) Draw(ctx context.Context) (uint64, error) {
	var b [8]byte
	if _, err := crand.Read(b[:]); err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b[:]), nil
}

// FixedEntropy always returns itself; it makes draws reproducible in tests.
type FixedEntropy uint64

func (e FixedEntropy) Draw(ctx context.Context) (uint64, error) {
	return uint64(e), nil
}
