package pagecodec

import "encoding/binary"

// AEGIS scheme. The "algorithm" parameter selects one of six AEGIS variants;
// the 128-family uses 16-byte keys and nonces, the 256-family 32-byte ones.
// Keys are derived with Argon2id. Each page transform expands the stored
// page nonce into a one-time key and nonce with the AEGIS keystream, then
// overrides the tail of the derived material with the big-endian page number
// so per-page uniqueness survives even a repeated nonce.
//
// On-disk tail: ciphertext || tag[32] || nonce[16 or 32].

const (
	aegisSchemeName = "aegis"

	aegisPageTagLen = 32

	aegisTCostDefault = 2
	aegisMCostDefault = 19 * 1024
	aegisPCostDefault = 1
)

type aegisScheme struct{}

func (aegisScheme) Name() string { return aegisSchemeName }

func (aegisScheme) DefaultParams() []CipherParam {
	return []CipherParam{
		{Name: ParamTCost, Default: aegisTCostDefault, Value: aegisTCostDefault, Min: 1, Max: 0x7fffffff},
		{Name: ParamMCost, Default: aegisMCostDefault, Value: aegisMCostDefault, Min: 1, Max: 0x7fffffff},
		{Name: ParamPCost, Default: aegisPCostDefault, Value: aegisPCostDefault, Min: 1, Max: 0x7fffffff},
		{Name: ParamAlgorithm, Default: AegisAlgo256, Value: AegisAlgo256, Min: aegisAlgoMin, Max: aegisAlgoMax},
	}
}

func (aegisScheme) Allocate(params *ParamStore) (Cipher, error) {
	c := &aegisCipher{
		tcost: params.getOr(aegisSchemeName, ParamTCost, aegisTCostDefault),
		mcost: params.getOr(aegisSchemeName, ParamMCost, aegisMCostDefault),
		pcost: params.getOr(aegisSchemeName, ParamPCost, aegisPCostDefault),
		algo:  params.getOr(aegisSchemeName, ParamAlgorithm, AegisAlgo256),
	}
	if c.algo < aegisAlgoMin || c.algo > aegisAlgoMax {
		return nil, &ValidationError{Param: ParamAlgorithm, Value: c.algo,
			Message: "unknown aegis algorithm"}
	}
	return c, nil
}

type aegisCipher struct {
	tcost int
	mcost int
	pcost int
	algo  int
	key   []byte
	salt  [SaltLength]byte
}

func (c *aegisCipher) variant() *aegisVariant { return &aegisVariants[c.algo] }

func (c *aegisCipher) Scheme() string { return aegisSchemeName }
func (c *aegisCipher) Legacy() bool   { return false }
func (c *aegisCipher) PageSize() int  { return 0 }
func (c *aegisCipher) Salt() []byte   { return c.salt[:] }

func (c *aegisCipher) Reserved() int {
	return aegisPageTagLen + c.variant().nonceLen()
}

func (c *aegisCipher) Clone() Cipher {
	dup := *c
	if c.key != nil {
		dup.key = newKeyBuffer(len(c.key))
		copy(dup.key, c.key)
	}
	return &dup
}

func (c *aegisCipher) Free() {
	if c.key != nil {
		releaseKeyBuffer(c.key)
	}
	*c = aegisCipher{}
}

func (c *aegisCipher) GenerateKey(passphrase []byte, rekey bool, salt []byte) error {
	keyLen := c.variant().keyLen()
	keyOnly, err := acquireSalt(c.salt[:], rekey, salt)
	if err != nil {
		return err
	}
	key, rawSalt, ok, err := extractRawKey(passphrase, keyOnly, keyLen)
	if err != nil {
		return err
	}
	if ok {
		if rawSalt != nil {
			copy(c.salt[:], rawSalt)
		}
	} else {
		key = deriveKeyArgon2id(passphrase, c.salt[:], c.tcost, c.mcost, c.pcost, keyLen)
	}
	c.key = newKeyBuffer(keyLen)
	copy(c.key, key)
	Zeroize(key)
	return nil
}

// deterministicNonce produces the page nonce used when the pager reserves no
// tail bytes: keystream under the all-zero nonce. Uniqueness then comes from
// the page-number override in otk.
func (c *aegisCipher) deterministicNonce() []byte {
	nonce := make([]byte, c.variant().nonceLen())
	aegisStream(c.algo, nonce, nil, c.key)
	return nonce
}

// otk expands a page nonce into one-time key material: keyLen bytes of page
// key followed by nonceLen bytes of page nonce, with the final four bytes
// replaced by the big-endian page number.
func (c *aegisCipher) otk(nonce []byte, page uint32) []byte {
	v := c.variant()
	otk := make([]byte, v.keyLen()+v.nonceLen())
	aegisStream(c.algo, otk, nonce, c.key)
	binary.BigEndian.PutUint32(otk[len(otk)-4:], page)
	return otk
}

func (c *aegisCipher) EncryptPage(page uint32, data []byte, reserved int) error {
	if page == 0 {
		return &ValidationError{Param: "page", Value: page, Message: "page numbers are 1-based"}
	}
	v := c.variant()
	need := effectiveReserved(c.Reserved(), reserved, false)
	if need > reserved {
		return pageError(aegisSchemeName, "encrypt", page, "reserved bytes mismatch")
	}
	n := len(data) - need
	offset := 0
	if page == 1 {
		offset = page1Offset
	}

	if need > 0 {
		nonce := data[n+aegisPageTagLen : n+need]
		if err := randomBytes(nonce); err != nil {
			return err
		}
		otk := c.otk(nonce, page)
		err := aegisEncryptDetached(c.algo, data[offset:n], data[n:n+aegisPageTagLen],
			aegisPageTagLen, data[offset:n], nil, otk[v.keyLen():], otk[:v.keyLen()])
		Zeroize(otk)
		if err != nil {
			return err
		}
	} else {
		nonce := c.deterministicNonce()
		otk := c.otk(nonce, page)
		aegisEncryptRaw(c.algo, data[offset:n], data[offset:n], otk[v.keyLen():], otk[:v.keyLen()])
		Zeroize(otk)
	}
	if page == 1 {
		copy(data[:SaltLength], c.salt[:])
	}
	return nil
}

func (c *aegisCipher) DecryptPage(page uint32, data []byte, reserved int, checkMAC bool) error {
	if page == 0 {
		return &ValidationError{Param: "page", Value: page, Message: "page numbers are 1-based"}
	}
	v := c.variant()
	need := effectiveReserved(c.Reserved(), reserved, false)
	if need > reserved {
		return pageError(aegisSchemeName, "decrypt", page, "reserved bytes mismatch")
	}
	n := len(data) - need
	offset := 0
	if page == 1 {
		offset = page1Offset
	}

	if need > 0 {
		nonce := data[n+aegisPageTagLen : n+need]
		otk := c.otk(nonce, page)
		if checkMAC {
			ok, err := aegisDecryptDetached(c.algo, data[offset:n], data[offset:n],
				data[n:n+aegisPageTagLen], aegisPageTagLen, nil, otk[v.keyLen():], otk[:v.keyLen()])
			Zeroize(otk)
			if err != nil {
				return err
			}
			if !ok {
				return pageError(aegisSchemeName, "decrypt", page, "page authentication failed")
			}
		} else {
			aegisDecryptRaw(c.algo, data[offset:n], data[offset:n], otk[v.keyLen():], otk[:v.keyLen()])
			Zeroize(otk)
		}
	} else {
		nonce := c.deterministicNonce()
		otk := c.otk(nonce, page)
		aegisDecryptRaw(c.algo, data[offset:n], data[offset:n], otk[v.keyLen():], otk[:v.keyLen()])
		Zeroize(otk)
	}
	if page == 1 {
		copy(data[:SaltLength], MagicHeader)
	}
	return nil
}
