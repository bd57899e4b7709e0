package pagecodec

import (
	"bytes"
	"crypto/hmac"
	"crypto/sha1"
	"crypto/sha256"
	"crypto/sha512"
	"encoding"
	"encoding/binary"
	"encoding/hex"
	"hash"

	"golang.org/x/crypto/argon2"
	"golang.org/x/crypto/pbkdf2"
)

// KDF hash selectors, shared by the sqlcipher scheme's kdf_algorithm and
// hmac_algorithm parameters.
const (
	kdfSHA1 = iota
	kdfSHA256
	kdfSHA512
	kdfSHA512Trunc // SHA-512 output truncated to 32 bytes (MAC use only)
)

func kdfHashNew(algo int) func() hash.Hash {
	switch algo {
	case kdfSHA1:
		return sha1.New
	case kdfSHA256:
		return sha256.New
	default:
		return sha512.New
	}
}

// kdfMACLen returns the number of MAC bytes stored on disk for an
// hmac_algorithm value.
func kdfMACLen(algo int) int {
	switch algo {
	case kdfSHA1:
		return sha1.Size
	case kdfSHA256:
		return sha256.Size
	case kdfSHA512:
		return sha512.Size
	default:
		return 32
	}
}

// deriveKeyPBKDF2 is RFC 8018 PBKDF2 with the selected HMAC hash.
func deriveKeyPBKDF2(password, salt []byte, iter, keyLen, algo int) []byte {
	if iter < 1 {
		iter = 1
	}
	return pbkdf2.Key(password, salt, iter, keyLen, kdfHashNew(algo))
}

// fastPBKDF2 produces output bit-identical to deriveKeyPBKDF2 while hoisting
// the HMAC inner and outer pad hashing out of the iteration loop. The
// precomputed states are cloned through the hash's binary marshaling; if the
// hash does not support it the plain implementation is used.
func fastPBKDF2(password, salt []byte, iter, keyLen, algo int) []byte {
	if iter < 1 {
		iter = 1
	}
	newHash := kdfHashNew(algo)
	iPad, oPad := hmacPadStates(newHash, password)
	if iPad == nil {
		return pbkdf2.Key(password, salt, iter, keyLen, newHash)
	}

	hashLen := newHash().Size()
	numBlocks := (keyLen + hashLen - 1) / hashLen
	dk := make([]byte, 0, numBlocks*hashLen)
	var blockIndex [4]byte
	for block := 1; block <= numBlocks; block++ {
		binary.BigEndian.PutUint32(blockIndex[:], uint32(block))

		// U1 = PRF(password, salt || INT(block))
		u := hmacFromStates(newHash, iPad, oPad, salt, blockIndex[:])
		t := make([]byte, hashLen)
		copy(t, u)
		for i := 1; i < iter; i++ {
			u = hmacFromStates(newHash, iPad, oPad, u)
			for j := range t {
				t[j] ^= u[j]
			}
		}
		dk = append(dk, t...)
	}
	return dk[:keyLen]
}

// hmacPadStates captures the hash states after absorbing the HMAC inner and
// outer pads of key, so the per-iteration PRF only hashes its message.
func hmacPadStates(newHash func() hash.Hash, key []byte) (iPad, oPad []byte) {
	h := newHash()
	blockSize := h.BlockSize()
	if len(key) > blockSize {
		h.Write(key)
		key = h.Sum(nil)
		h = newHash()
	}
	pad := make([]byte, blockSize)
	copy(pad, key)
	for i := range pad {
		pad[i] ^= 0x36
	}
	h.Write(pad)
	im, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, nil
	}
	iPad, err := im.MarshalBinary()
	if err != nil {
		return nil, nil
	}

	h = newHash()
	for i := range pad {
		pad[i] ^= 0x36 ^ 0x5c
	}
	h.Write(pad)
	om, ok := h.(encoding.BinaryMarshaler)
	if !ok {
		return nil, nil
	}
	oPad, err = om.MarshalBinary()
	if err != nil {
		return nil, nil
	}
	Zeroize(pad)
	return iPad, oPad
}

// hmacFromStates finishes one HMAC computation from captured pad states.
func hmacFromStates(newHash func() hash.Hash, iPad, oPad []byte, msg ...[]byte) []byte {
	h := newHash()
	h.(encoding.BinaryUnmarshaler).UnmarshalBinary(iPad)
	for _, m := range msg {
		h.Write(m)
	}
	innerSum := h.Sum(nil)

	h = newHash()
	h.(encoding.BinaryUnmarshaler).UnmarshalBinary(oPad)
	h.Write(innerSum)
	return h.Sum(nil)
}

// deriveKeyArgon2id derives keyLen bytes with Argon2id; used by the aegis
// scheme.
func deriveKeyArgon2id(password, salt []byte, tcost, mcost, pcost, keyLen int) []byte {
	if tcost < 1 {
		tcost = 1
	}
	if pcost < 1 {
		pcost = 1
	}
	return argon2.IDKey(password, salt, uint32(tcost), uint32(mcost), uint8(pcost), uint32(keyLen))
}

// hmacPage computes an HMAC over the given segments, in order.
func hmacPage(newHash func() hash.Hash, key []byte, segments ...[]byte) []byte {
	m := hmac.New(newHash, key)
	for _, s := range segments {
		m.Write(s)
	}
	return m.Sum(nil)
}

// rawKeyPrefix introduces direct key material in a passphrase.
var rawKeyPrefix = []byte("raw:")

// isHexKey reports whether b consists only of hexadecimal digits.
func isHexKey(b []byte) bool {
	if len(b) == 0 {
		return false
	}
	for _, c := range b {
		switch {
		case c >= '0' && c <= '9':
		case c >= 'a' && c <= 'f':
		case c >= 'A' && c <= 'F':
		default:
			return false
		}
	}
	return true
}

// extractRawKey implements the "raw:" passphrase form. The remainder after
// the prefix must be one of exactly four shapes keyed on its length: binary
// key, binary key+salt, hex key, hex key+salt. Any other length is an
// invalid-argument error, not a passphrase.
//
// The returned salt is nil when the input carried no salt. keyOnly means the
// caller already adopted an existing salt, so a salt in the input is
// ignored (matching rekey semantics).
func extractRawKey(passphrase []byte, keyOnly bool, keyLen int) (key, salt []byte, ok bool, err error) {
	if !bytes.HasPrefix(passphrase, rawKeyPrefix) {
		return nil, nil, false, nil
	}
	raw := passphrase[len(rawKeyPrefix):]
	switch len(raw) {
	case keyLen:
		key = append([]byte(nil), raw...)
	case keyLen + SaltLength:
		key = append([]byte(nil), raw[:keyLen]...)
		if !keyOnly {
			salt = append([]byte(nil), raw[keyLen:]...)
		}
	case 2 * keyLen:
		if !isHexKey(raw) {
			return nil, nil, false, &ValidationError{Param: "key",
				Message: "raw key is not valid hexadecimal"}
		}
		key = make([]byte, keyLen)
		hex.Decode(key, raw)
	case 2 * (keyLen + SaltLength):
		if !isHexKey(raw) {
			return nil, nil, false, &ValidationError{Param: "key",
				Message: "raw key is not valid hexadecimal"}
		}
		key = make([]byte, keyLen)
		hex.Decode(key, raw[:2*keyLen])
		if !keyOnly {
			salt = make([]byte, SaltLength)
			hex.Decode(salt, raw[2*keyLen:])
		}
	default:
		return nil, nil, false, &ValidationError{Param: "key",
			Message: "raw key has an unsupported length"}
	}
	return key, salt, true, nil
}

// pageIVSHA1 derives the deterministic per-page IV used by the legacy CBC
// modes and by MAC schemes operating without reserved bytes:
// SHA-1(LE32(page) || key[:16]) truncated to 16 bytes. Inputs are public, so
// the hash need not be constant-time.
func pageIVSHA1(page uint32, key []byte) [16]byte {
	var seed [4]byte
	binary.LittleEndian.PutUint32(seed[:], page)
	h := sha1.New()
	h.Write(seed[:])
	if len(key) > 16 {
		key = key[:16]
	}
	h.Write(key)
	var iv [16]byte
	copy(iv[:], h.Sum(nil))
	return iv
}
