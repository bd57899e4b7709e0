package pagecodec

import (
	"crypto/rand"
	"encoding/binary"
	"fmt"
	"sync"

	"golang.org/x/crypto/chacha20"
)

// prng is a cryptographic pseudo-random generator: a ChaCha20 keystream in
// counter mode over a key drawn from OS entropy. All nonce and salt material
// in the package comes from here, so tests can install a deterministic
// generator and the "identical randomness implies identical ciphertext"
// property holds.
type prng struct {
	mu     sync.Mutex
	key    [32]byte
	nonce  [12]byte
	seeded bool
}

// masterPRNG is the process-wide generator, guarded by its own mutex and
// seeded lazily on first use.
var masterPRNG = &prng{}

// randomBytes fills out with randomness from the master PRNG. It is the
// single entry point the schemes use, and is swapped out by tests that need
// reproducible nonces.
var randomBytes = func(out []byte) error {
	return masterPRNG.read(out)
}

func (p *prng) seedLocked() error {
	if _, err := rand.Read(p.key[:]); err != nil {
		return fmt.Errorf("failed to seed prng: %w", err)
	}
	for i := range p.nonce {
		p.nonce[i] = 0
	}
	p.seeded = true
	return nil
}

func (p *prng) read(out []byte) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.seeded {
		if err := p.seedLocked(); err != nil {
			return err
		}
	}
	// Advance the nonce as a little-endian counter; one keystream block run
	// per read keeps the implementation stateless between calls.
	ctr := binary.LittleEndian.Uint64(p.nonce[0:8])
	binary.LittleEndian.PutUint64(p.nonce[0:8], ctr+1)

	c, err := chacha20.NewUnauthenticatedCipher(p.key[:], p.nonce[:])
	if err != nil {
		return fmt.Errorf("failed to create prng stream: %w", err)
	}
	for i := range out {
		out[i] = 0
	}
	c.XORKeyStream(out, out)
	return nil
}

// Reseed discards the current PRNG state and draws a fresh key from OS
// entropy. Hosts should call it after fork().
func Reseed() error {
	masterPRNG.mu.Lock()
	defer masterPRNG.mu.Unlock()
	return masterPRNG.seedLocked()
}

func (p *prng) reset() {
	p.mu.Lock()
	defer p.mu.Unlock()
	Zeroize(p.key[:])
	Zeroize(p.nonce[:])
	p.seeded = false
}
