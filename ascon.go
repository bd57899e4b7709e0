package pagecodec

import (
	"encoding/binary"
	"hash"
	"math/bits"

	"golang.org/x/crypto/pbkdf2"
)

// Ascon-128 AEAD and Ascon-Hash (NIST lightweight cryptography winner).
// 320-bit state, 64-bit rate, p12/p6 permutations.

const (
	asconKeyLen   = 16
	asconNonceLen = 16
	asconTagLen   = 16
	asconHashLen  = 32
	asconRate     = 8

	ascon128IV = uint64(0x80400c0600000000)
)

type asconState [5]uint64

// permute applies the last `rounds` rounds of the Ascon permutation.
func (s *asconState) permute(rounds int) {
	for ri := 12 - rounds; ri < 12; ri++ {
		// Round constant.
		s[2] ^= uint64(0xf0 - ri*0x0f)

		// Substitution layer.
		s[0] ^= s[4]
		s[4] ^= s[3]
		s[2] ^= s[1]
		t0 := s[0] ^ (^s[1] & s[2])
		t1 := s[1] ^ (^s[2] & s[3])
		t2 := s[2] ^ (^s[3] & s[4])
		t3 := s[3] ^ (^s[4] & s[0])
		t4 := s[4] ^ (^s[0] & s[1])
		t1 ^= t0
		t0 ^= t4
		t3 ^= t2
		t2 = ^t2

		// Linear diffusion layer.
		s[0] = t0 ^ bits.RotateLeft64(t0, -19) ^ bits.RotateLeft64(t0, -28)
		s[1] = t1 ^ bits.RotateLeft64(t1, -61) ^ bits.RotateLeft64(t1, -39)
		s[2] = t2 ^ bits.RotateLeft64(t2, -1) ^ bits.RotateLeft64(t2, -6)
		s[3] = t3 ^ bits.RotateLeft64(t3, -10) ^ bits.RotateLeft64(t3, -17)
		s[4] = t4 ^ bits.RotateLeft64(t4, -7) ^ bits.RotateLeft64(t4, -41)
	}
}

// asconAEADInit absorbs key, nonce and associated data.
func asconAEADInit(key, nonce, ad []byte) asconState {
	k0 := binary.BigEndian.Uint64(key[0:8])
	k1 := binary.BigEndian.Uint64(key[8:16])
	var s asconState
	s[0] = ascon128IV
	s[1] = k0
	s[2] = k1
	s[3] = binary.BigEndian.Uint64(nonce[0:8])
	s[4] = binary.BigEndian.Uint64(nonce[8:16])
	s.permute(12)
	s[3] ^= k0
	s[4] ^= k1

	if len(ad) > 0 {
		for len(ad) >= asconRate {
			s[0] ^= binary.BigEndian.Uint64(ad)
			s.permute(6)
			ad = ad[asconRate:]
		}
		s[0] ^= padWord(ad)
		s.permute(6)
	}
	s[4] ^= 1
	return s
}

func asconAEADFinal(s *asconState, key []byte, tag []byte) {
	k0 := binary.BigEndian.Uint64(key[0:8])
	k1 := binary.BigEndian.Uint64(key[8:16])
	s[1] ^= k0
	s[2] ^= k1
	s.permute(12)
	binary.BigEndian.PutUint64(tag[0:8], s[3]^k0)
	binary.BigEndian.PutUint64(tag[8:16], s[4]^k1)
}

// padWord loads up to 7 bytes big-endian and applies the 0x80 domain pad.
func padWord(b []byte) uint64 {
	var w uint64
	for i, c := range b {
		w |= uint64(c) << (56 - 8*i)
	}
	return w | uint64(0x80)<<(56-8*len(b))
}

// asconSeal encrypts m into c (which may alias m) and writes the tag.
// len(c) == len(m); tag is 16 bytes.
func asconSeal(c, tag, m, ad, nonce, key []byte) {
	s := asconAEADInit(key, nonce, ad)
	for len(m) >= asconRate {
		s[0] ^= binary.BigEndian.Uint64(m)
		binary.BigEndian.PutUint64(c, s[0])
		s.permute(6)
		m = m[asconRate:]
		c = c[asconRate:]
	}
	last := s[0] ^ padWord(m)
	var block [asconRate]byte
	binary.BigEndian.PutUint64(block[:], last)
	copy(c, block[:len(m)])
	s[0] = last
	asconAEADFinal(&s, key, tag)
}

// asconOpen decrypts c into m (which may alias c), verifies the tag in
// constant time, and reports success. On failure m still holds the
// unauthenticated decryption; callers decide whether to surface it.
func asconOpen(m, c, tag, ad, nonce, key []byte) bool {
	s := asconAEADInit(key, nonce, ad)
	for len(c) >= asconRate {
		ci := binary.BigEndian.Uint64(c)
		binary.BigEndian.PutUint64(m, s[0]^ci)
		s[0] = ci
		s.permute(6)
		c = c[asconRate:]
		m = m[asconRate:]
	}
	// m may alias c, so capture the ciphertext tail before overwriting it.
	var ctail [asconRate]byte
	tailLen := copy(ctail[:], c)
	var block [asconRate]byte
	binary.BigEndian.PutUint64(block[:], s[0])
	for i := 0; i < tailLen; i++ {
		block[i] ^= ctail[i]
	}
	copy(m, block[:tailLen])
	// Reinsert the ciphertext bytes and the pad into the rate word.
	var keep [asconRate]byte
	binary.BigEndian.PutUint64(keep[:], s[0])
	copy(keep[:tailLen], ctail[:tailLen])
	s[0] = binary.BigEndian.Uint64(keep[:]) ^ uint64(0x80)<<(56-8*tailLen)

	var computed [asconTagLen]byte
	asconAEADFinal(&s, key, computed[:])
	return Verify16(computed[:], tag) == 0
}

// Ascon-Hash with 32-byte output. The initial state is the precomputed
// permutation of the hash IV.
var asconHashInit = asconState{
	0xee9398aadb67f03d,
	0x8bb21831c60f1002,
	0xb48a92db98d5da62,
	0x43189921b8f8e3e8,
	0x348fa5c9d525e140,
}

func asconHash(out, data []byte) {
	s := asconHashInit
	for len(data) >= asconRate {
		s[0] ^= binary.BigEndian.Uint64(data)
		s.permute(12)
		data = data[asconRate:]
	}
	s[0] ^= padWord(data)
	for n := 0; n < len(out); n += asconRate {
		s.permute(12)
		var w [asconRate]byte
		binary.BigEndian.PutUint64(w[:], s[0])
		copy(out[n:], w[:])
	}
}

// asconDigest adapts asconHash to hash.Hash so it can drive HMAC and PBKDF2.
type asconDigest struct {
	buf []byte
}

func newAsconDigest() hash.Hash { return &asconDigest{} }

func (d *asconDigest) Write(p []byte) (int, error) {
	d.buf = append(d.buf, p...)
	return len(p), nil
}

func (d *asconDigest) Sum(b []byte) []byte {
	var out [asconHashLen]byte
	asconHash(out[:], d.buf)
	return append(b, out[:]...)
}

func (d *asconDigest) Reset()         { d.buf = d.buf[:0] }
func (d *asconDigest) Size() int      { return asconHashLen }
func (d *asconDigest) BlockSize() int { return 64 }

// asconPBKDF2 is RFC 8018 PBKDF2 with HMAC over Ascon-Hash as the PRF.
func asconPBKDF2(password, salt []byte, iter, keyLen int) []byte {
	if iter < 1 {
		iter = 1
	}
	return pbkdf2.Key(password, salt, iter, keyLen, newAsconDigest)
}
