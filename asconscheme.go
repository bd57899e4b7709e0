package pagecodec

import "encoding/binary"

// Ascon-128 scheme. The page transform derives a one-time AEAD key and
// nonce per page by hashing master key, page nonce and page number, then
// seals the page body with Ascon-128.
//
// On-disk tail: ciphertext || tag[16] || nonce[16].

const (
	ascon128Name = "ascon128"

	ascon128KeyLen   = 32
	ascon128NonceLen = 16
	ascon128TagLen   = 16
	ascon128Reserved = ascon128NonceLen + ascon128TagLen

	ascon128KDFIterDefault = 64007
)

type ascon128Scheme struct{}

func (ascon128Scheme) Name() string { return ascon128Name }

func (ascon128Scheme) DefaultParams() []CipherParam {
	return []CipherParam{
		{Name: ParamKDFIter, Default: ascon128KDFIterDefault, Value: ascon128KDFIterDefault, Min: 1, Max: 0x7fffffff},
		{Name: ParamPlaintextHeaderSize, Default: 0, Value: 0, Min: 0, Max: maxPlaintextHeader},
	}
}

func (ascon128Scheme) Allocate(params *ParamStore) (Cipher, error) {
	return &ascon128Cipher{
		kdfIter:         params.getOr(ascon128Name, ParamKDFIter, ascon128KDFIterDefault),
		plaintextHeader: params.getOr(ascon128Name, ParamPlaintextHeaderSize, 0),
	}, nil
}

type ascon128Cipher struct {
	kdfIter         int
	plaintextHeader int
	key             []byte
	salt            [SaltLength]byte
}

func (c *ascon128Cipher) Scheme() string { return ascon128Name }
func (c *ascon128Cipher) Legacy() bool   { return false }
func (c *ascon128Cipher) PageSize() int  { return 0 }
func (c *ascon128Cipher) Reserved() int  { return ascon128Reserved }
func (c *ascon128Cipher) Salt() []byte   { return c.salt[:] }

func (c *ascon128Cipher) Clone() Cipher {
	dup := *c
	if c.key != nil {
		dup.key = newKeyBuffer(len(c.key))
		copy(dup.key, c.key)
	}
	return &dup
}

func (c *ascon128Cipher) Free() {
	if c.key != nil {
		releaseKeyBuffer(c.key)
	}
	*c = ascon128Cipher{}
}

func (c *ascon128Cipher) GenerateKey(passphrase []byte, rekey bool, salt []byte) error {
	keyOnly, err := acquireSalt(c.salt[:], rekey, salt)
	if err != nil {
		return err
	}
	key, rawSalt, ok, err := extractRawKey(passphrase, keyOnly, ascon128KeyLen)
	if err != nil {
		return err
	}
	if ok {
		if rawSalt != nil {
			copy(c.salt[:], rawSalt)
		}
	} else {
		key = asconPBKDF2(passphrase, c.salt[:], c.kdfIter, ascon128KeyLen)
	}
	c.key = newKeyBuffer(ascon128KeyLen)
	copy(c.key, key)
	Zeroize(key)
	return nil
}

// otk hashes master key, nonce and big-endian page number into a one-time
// 16-byte AEAD key and 16-byte AEAD nonce.
func (c *ascon128Cipher) otk(nonce []byte, page uint32) (otk [asconHashLen]byte) {
	buf := make([]byte, ascon128KeyLen+ascon128NonceLen+4)
	copy(buf, c.key)
	copy(buf[ascon128KeyLen:], nonce)
	binary.BigEndian.PutUint32(buf[ascon128KeyLen+ascon128NonceLen:], page)
	asconHash(otk[:], buf)
	Zeroize(buf)
	return otk
}

func (c *ascon128Cipher) bodyOffset(page uint32) (offset int, plainHeader bool) {
	if page != 1 {
		return 0, false
	}
	if c.plaintextHeader > 0 {
		return page1HeaderOffset(c.plaintextHeader, false), true
	}
	return page1Offset, false
}

func (c *ascon128Cipher) EncryptPage(page uint32, data []byte, reserved int) error {
	if page == 0 {
		return &ValidationError{Param: "page", Value: page, Message: "page numbers are 1-based"}
	}
	need := effectiveReserved(ascon128Reserved, reserved, false)
	if need > reserved {
		return pageError(ascon128Name, "encrypt", page, "reserved bytes mismatch")
	}
	n := len(data) - need
	offset, plainHeader := c.bodyOffset(page)

	if need > 0 {
		nonce := data[n+ascon128TagLen : n+ascon128Reserved]
		if err := randomBytes(nonce); err != nil {
			return err
		}
		otk := c.otk(nonce, page)
		asconSeal(data[offset:n], data[n:n+ascon128TagLen], data[offset:n], nil,
			otk[asconKeyLen:2*asconKeyLen], otk[:asconKeyLen])
		Zeroize(otk[:])
	} else {
		iv := pageIVSHA1(page, c.key)
		otk := c.otk(iv[:], page)
		var tag [ascon128TagLen]byte
		asconSeal(data[offset:n], tag[:], data[offset:n], nil,
			otk[asconKeyLen:2*asconKeyLen], otk[:asconKeyLen])
		Zeroize(otk[:])
	}
	if page == 1 && !plainHeader {
		copy(data[:SaltLength], c.salt[:])
	}
	return nil
}

func (c *ascon128Cipher) DecryptPage(page uint32, data []byte, reserved int, checkMAC bool) error {
	if page == 0 {
		return &ValidationError{Param: "page", Value: page, Message: "page numbers are 1-based"}
	}
	need := effectiveReserved(ascon128Reserved, reserved, false)
	if need > reserved {
		return pageError(ascon128Name, "decrypt", page, "reserved bytes mismatch")
	}
	n := len(data) - need
	offset, plainHeader := c.bodyOffset(page)

	if need > 0 {
		nonce := data[n+ascon128TagLen : n+ascon128Reserved]
		otk := c.otk(nonce, page)
		ok := asconOpen(data[offset:n], data[offset:n], data[n:n+ascon128TagLen], nil,
			otk[asconKeyLen:2*asconKeyLen], otk[:asconKeyLen])
		Zeroize(otk[:])
		if checkMAC && !ok {
			// The sponge has to run over the ciphertext to compute the tag,
			// so the buffer already holds the unauthenticated plaintext;
			// scrub it before surfacing the failure.
			Zeroize(data[offset:n])
			return pageError(ascon128Name, "decrypt", page, "page authentication failed")
		}
	} else {
		iv := pageIVSHA1(page, c.key)
		otk := c.otk(iv[:], page)
		var tag [ascon128TagLen]byte
		asconOpen(data[offset:n], data[offset:n], tag[:], nil,
			otk[asconKeyLen:2*asconKeyLen], otk[:asconKeyLen])
		Zeroize(otk[:])
	}
	if page == 1 && !plainHeader {
		copy(data[:SaltLength], MagicHeader)
	}
	return nil
}
