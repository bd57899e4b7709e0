package pagecodec

import (
	"encoding/binary"

	"golang.org/x/crypto/chacha20"
)

// ChaCha20-Poly1305 scheme (sqleet format). Every page carries a random
// 16-byte nonce field in its reserved tail: twelve nonce bytes plus four
// bytes folded into the initial block counter. A 64-byte one-time-key block
// is generated per page; its first half keys Poly1305, its second half keys
// the body stream.
//
// On-disk tail: ciphertext || tag[16] || nonce[16].

const (
	chacha20Name = "chacha20"

	chacha20KeyLen   = 32
	chacha20NonceLen = 16
	chacha20TagLen   = 16
	chacha20Reserved = chacha20NonceLen + chacha20TagLen

	chacha20KDFIterDefault = 64007
	sqleetKDFIter          = 12345
	chacha20LegacyPageSize = 4096
)

type chacha20Scheme struct{}

func (chacha20Scheme) Name() string { return chacha20Name }

func (chacha20Scheme) DefaultParams() []CipherParam {
	return []CipherParam{
		{Name: ParamLegacy, Default: 0, Value: 0, Min: 0, Max: 1},
		{Name: ParamLegacyPageSize, Default: chacha20LegacyPageSize, Value: chacha20LegacyPageSize, Min: 0, Max: MaxPageSize},
		{Name: ParamKDFIter, Default: chacha20KDFIterDefault, Value: chacha20KDFIterDefault, Min: 1, Max: 0x7fffffff},
		{Name: ParamPlaintextHeaderSize, Default: 0, Value: 0, Min: 0, Max: maxPlaintextHeader},
	}
}

func (chacha20Scheme) Allocate(params *ParamStore) (Cipher, error) {
	c := &chacha20Cipher{
		legacy:          params.getOr(chacha20Name, ParamLegacy, 0) != 0,
		kdfIter:         params.getOr(chacha20Name, ParamKDFIter, chacha20KDFIterDefault),
		plaintextHeader: params.getOr(chacha20Name, ParamPlaintextHeaderSize, 0),
	}
	if c.legacy {
		// Original sqleet files always use this iteration count.
		c.kdfIter = sqleetKDFIter
	}
	c.pageSize = legacyPageSize(c.legacy, params.getOr(chacha20Name, ParamLegacyPageSize, chacha20LegacyPageSize))
	return c, nil
}

type chacha20Cipher struct {
	legacy          bool
	pageSize        int
	kdfIter         int
	plaintextHeader int
	key             []byte
	salt            [SaltLength]byte
}

func (c *chacha20Cipher) Scheme() string { return chacha20Name }
func (c *chacha20Cipher) Legacy() bool   { return c.legacy }
func (c *chacha20Cipher) PageSize() int  { return c.pageSize }
func (c *chacha20Cipher) Reserved() int  { return chacha20Reserved }
func (c *chacha20Cipher) Salt() []byte   { return c.salt[:] }

func (c *chacha20Cipher) Clone() Cipher {
	dup := *c
	if c.key != nil {
		dup.key = newKeyBuffer(len(c.key))
		copy(dup.key, c.key)
	}
	return &dup
}

func (c *chacha20Cipher) Free() {
	if c.key != nil {
		releaseKeyBuffer(c.key)
	}
	*c = chacha20Cipher{}
}

func (c *chacha20Cipher) GenerateKey(passphrase []byte, rekey bool, salt []byte) error {
	keyOnly, err := acquireSalt(c.salt[:], rekey, salt)
	if err != nil {
		return err
	}
	key, rawSalt, ok, err := extractRawKey(passphrase, keyOnly, chacha20KeyLen)
	if err != nil {
		return err
	}
	if ok {
		if rawSalt != nil {
			copy(c.salt[:], rawSalt)
		}
	} else {
		key = fastPBKDF2(passphrase, c.salt[:], c.kdfIter, chacha20KeyLen, kdfSHA256)
	}
	c.key = newKeyBuffer(chacha20KeyLen)
	copy(c.key, key)
	Zeroize(key)
	return nil
}

// otk derives the 64-byte one-time-key block for a page nonce. The counter
// folds the page number into the last four nonce bytes, so equal nonces on
// different pages still yield distinct keystreams.
func (c *chacha20Cipher) otk(nonce []byte, page uint32) (otk [64]byte, counter uint32, err error) {
	counter = binary.LittleEndian.Uint32(nonce[chacha20NonceLen-4:]) ^ page
	s, err := chacha20.NewUnauthenticatedCipher(c.key, nonce[:12])
	if err != nil {
		return otk, 0, err
	}
	s.SetCounter(counter)
	s.XORKeyStream(otk[:], otk[:])
	return otk, counter, nil
}

// xorBody applies the body stream: ChaCha20 under the second OTK half,
// starting at counter+1.
func xorBody(body, streamKey, nonce []byte, counter uint32) error {
	s, err := chacha20.NewUnauthenticatedCipher(streamKey, nonce[:12])
	if err != nil {
		return err
	}
	s.SetCounter(counter + 1)
	s.XORKeyStream(body, body)
	return nil
}

func (c *chacha20Cipher) bodyOffset(page uint32) (offset int, plainHeader bool) {
	if page != 1 {
		return 0, false
	}
	if c.plaintextHeader > 0 {
		return page1HeaderOffset(c.plaintextHeader, c.legacy), true
	}
	return page1HeaderOffset(0, c.legacy), false
}

func (c *chacha20Cipher) EncryptPage(page uint32, data []byte, reserved int) error {
	if page == 0 {
		return &ValidationError{Param: "page", Value: page, Message: "page numbers are 1-based"}
	}
	need := effectiveReserved(chacha20Reserved, reserved, c.legacy)
	if (!c.legacy && need > reserved) || (c.legacy && need != reserved) {
		return pageError(chacha20Name, "encrypt", page, "reserved bytes mismatch")
	}
	n := len(data) - need
	offset, plainHeader := c.bodyOffset(page)

	if need > 0 {
		nonce := data[n+chacha20TagLen : n+chacha20Reserved]
		if err := randomBytes(nonce); err != nil {
			return err
		}
		otk, counter, err := c.otk(nonce, page)
		if err != nil {
			return err
		}
		if err := xorBody(data[offset:n], otk[32:], nonce, counter); err != nil {
			return err
		}
		if page == 1 && !plainHeader {
			copy(data[:SaltLength], c.salt[:])
		}
		poly1305Tag(otk[:32], data[n:n+chacha20TagLen], data[:n], nonce)
		Zeroize(otk[:])
		return nil
	}

	// No reserved tail: deterministic nonce, no authentication.
	iv := pageIVSHA1(page, c.key)
	otk, counter, err := c.otk(iv[:], page)
	if err != nil {
		return err
	}
	if err := xorBody(data[offset:n], otk[32:], iv[:], counter); err != nil {
		return err
	}
	if page == 1 && !plainHeader {
		copy(data[:SaltLength], c.salt[:])
	}
	Zeroize(otk[:])
	return nil
}

func (c *chacha20Cipher) DecryptPage(page uint32, data []byte, reserved int, checkMAC bool) error {
	if page == 0 {
		return &ValidationError{Param: "page", Value: page, Message: "page numbers are 1-based"}
	}
	need := effectiveReserved(chacha20Reserved, reserved, c.legacy)
	if (!c.legacy && need > reserved) || (c.legacy && need != reserved) {
		return pageError(chacha20Name, "decrypt", page, "reserved bytes mismatch")
	}
	n := len(data) - need
	offset, plainHeader := c.bodyOffset(page)

	if need > 0 {
		nonce := data[n+chacha20TagLen : n+chacha20Reserved]
		otk, counter, err := c.otk(nonce, page)
		if err != nil {
			return err
		}
		// The tag covers the ciphertext, so it is verified before any byte
		// of the caller's buffer is decrypted.
		if checkMAC {
			var tag [chacha20TagLen]byte
			poly1305Tag(otk[:32], tag[:], data[:n], nonce)
			if Verify16(tag[:], data[n:n+chacha20TagLen]) != 0 {
				Zeroize(otk[:])
				return pageError(chacha20Name, "decrypt", page, "page authentication failed")
			}
		}
		if err := xorBody(data[offset:n], otk[32:], nonce, counter); err != nil {
			return err
		}
		Zeroize(otk[:])
		if page == 1 && !plainHeader {
			copy(data[:SaltLength], MagicHeader)
		}
		return nil
	}

	iv := pageIVSHA1(page, c.key)
	otk, counter, err := c.otk(iv[:], page)
	if err != nil {
		return err
	}
	if err := xorBody(data[offset:n], otk[32:], iv[:], counter); err != nil {
		return err
	}
	Zeroize(otk[:])
	if page == 1 && !plainHeader {
		copy(data[:SaltLength], MagicHeader)
	}
	return nil
}
