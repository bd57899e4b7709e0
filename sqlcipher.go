package pagecodec

import (
	"crypto/hmac"
	"encoding/binary"
)

// SQLCipher-compatible scheme: AES-256-CBC bodies with an HMAC over
// ciphertext, IV and page number. The "legacy" parameter selects a SQLCipher
// compatibility version (1 through 4), which pins KDF hash, iteration count
// and MAC; legacy 0 is the current profile (version 4 semantics).
//
// On-disk tail: ciphertext || IV[16] || HMAC || zero padding up to the
// reserve, which is 16+maclen rounded up to the AES block size.

const (
	sqlCipherName   = "sqlcipher"
	sqlCipherKeyLen = 32
	sqlCipherIVLen  = 16

	sqlCipherKDFIterDefault     = 256000
	sqlCipherFastKDFIterDefault = 2
	sqlCipherSaltMaskDefault    = 0x3a

	// hmac_pgno values: endianness of the page number in the MAC input.
	hmacPgnoNative = 0
	hmacPgnoLE     = 1
	hmacPgnoBE     = 2
)

type sqlCipherScheme struct{}

func (sqlCipherScheme) Name() string { return sqlCipherName }

func (sqlCipherScheme) DefaultParams() []CipherParam {
	return []CipherParam{
		{Name: ParamKDFIter, Default: sqlCipherKDFIterDefault, Value: sqlCipherKDFIterDefault, Min: 1, Max: 0x7fffffff},
		{Name: ParamFastKDFIter, Default: sqlCipherFastKDFIterDefault, Value: sqlCipherFastKDFIterDefault, Min: 1, Max: 0x7fffffff},
		{Name: ParamHMACUse, Default: 1, Value: 1, Min: 0, Max: 1},
		{Name: ParamHMACPgno, Default: hmacPgnoLE, Value: hmacPgnoLE, Min: hmacPgnoNative, Max: hmacPgnoBE},
		{Name: ParamHMACSaltMask, Default: sqlCipherSaltMaskDefault, Value: sqlCipherSaltMaskDefault, Min: 0, Max: 255},
		{Name: ParamKDFAlgorithm, Default: kdfSHA512, Value: kdfSHA512, Min: kdfSHA1, Max: kdfSHA512},
		{Name: ParamHMACAlgorithm, Default: kdfSHA512Trunc, Value: kdfSHA512Trunc, Min: kdfSHA1, Max: kdfSHA512Trunc},
		{Name: ParamLegacy, Default: 0, Value: 0, Min: 0, Max: 4},
		{Name: ParamLegacyPageSize, Default: 0, Value: 0, Min: 0, Max: MaxPageSize},
		{Name: ParamPlaintextHeaderSize, Default: 0, Value: 0, Min: 0, Max: maxPlaintextHeader},
	}
}

func (sqlCipherScheme) Allocate(params *ParamStore) (Cipher, error) {
	c := &sqlCipherCipher{
		kdfIter:         params.getOr(sqlCipherName, ParamKDFIter, sqlCipherKDFIterDefault),
		fastKDFIter:     params.getOr(sqlCipherName, ParamFastKDFIter, sqlCipherFastKDFIterDefault),
		hmacUse:         params.getOr(sqlCipherName, ParamHMACUse, 1) != 0,
		hmacPgno:        params.getOr(sqlCipherName, ParamHMACPgno, hmacPgnoLE),
		hmacSaltMask:    byte(params.getOr(sqlCipherName, ParamHMACSaltMask, sqlCipherSaltMaskDefault)),
		kdfAlgo:         params.getOr(sqlCipherName, ParamKDFAlgorithm, kdfSHA512),
		hmacAlgo:        params.getOr(sqlCipherName, ParamHMACAlgorithm, kdfSHA512Trunc),
		legacyVersion:   params.getOr(sqlCipherName, ParamLegacy, 0),
		plaintextHeader: params.getOr(sqlCipherName, ParamPlaintextHeaderSize, 0),
	}
	// Compatibility profiles pin the derivation parameters.
	switch c.legacyVersion {
	case 1:
		c.kdfIter, c.kdfAlgo = 4000, kdfSHA1
		c.hmacUse = false
	case 2:
		c.kdfIter, c.kdfAlgo = 4000, kdfSHA1
		c.hmacUse, c.hmacAlgo = true, kdfSHA1
	case 3:
		c.kdfIter, c.kdfAlgo = 64000, kdfSHA1
		c.hmacUse, c.hmacAlgo = true, kdfSHA1
	case 4:
		c.kdfIter, c.kdfAlgo = sqlCipherKDFIterDefault, kdfSHA512
		c.hmacUse, c.hmacAlgo = true, kdfSHA512Trunc
	}
	c.pageSize = legacyPageSize(c.legacyVersion > 0, params.getOr(sqlCipherName, ParamLegacyPageSize, 0))
	return c, nil
}

type sqlCipherCipher struct {
	kdfIter         int
	fastKDFIter     int
	hmacUse         bool
	hmacPgno        int
	hmacSaltMask    byte
	kdfAlgo         int
	hmacAlgo        int
	legacyVersion   int
	pageSize        int
	plaintextHeader int

	key     []byte // encryption key
	hmacKey []byte // independent MAC key
	salt    [SaltLength]byte
	cts     *aesCTS
}

func (c *sqlCipherCipher) Scheme() string { return sqlCipherName }
func (c *sqlCipherCipher) Legacy() bool   { return c.legacyVersion > 0 }
func (c *sqlCipherCipher) PageSize() int  { return c.pageSize }
func (c *sqlCipherCipher) Salt() []byte   { return c.salt[:] }

func (c *sqlCipherCipher) macLen() int {
	if !c.hmacUse {
		return 0
	}
	return kdfMACLen(c.hmacAlgo)
}

func (c *sqlCipherCipher) Reserved() int {
	r := sqlCipherIVLen + c.macLen()
	return (r + 15) &^ 15
}

func (c *sqlCipherCipher) Clone() Cipher {
	dup := *c
	if c.key != nil {
		dup.key = newKeyBuffer(len(c.key))
		copy(dup.key, c.key)
	}
	if c.hmacKey != nil {
		dup.hmacKey = newKeyBuffer(len(c.hmacKey))
		copy(dup.hmacKey, c.hmacKey)
	}
	return &dup
}

func (c *sqlCipherCipher) Free() {
	if c.key != nil {
		releaseKeyBuffer(c.key)
	}
	if c.hmacKey != nil {
		releaseKeyBuffer(c.hmacKey)
	}
	*c = sqlCipherCipher{}
}

func (c *sqlCipherCipher) GenerateKey(passphrase []byte, rekey bool, salt []byte) error {
	keyOnly, err := acquireSalt(c.salt[:], rekey, salt)
	if err != nil {
		return err
	}
	key, rawSalt, ok, err := extractRawKey(passphrase, keyOnly, sqlCipherKeyLen)
	if err != nil {
		return err
	}
	if ok {
		if rawSalt != nil {
			copy(c.salt[:], rawSalt)
		}
	} else {
		key = fastPBKDF2(passphrase, c.salt[:], c.kdfIter, sqlCipherKeyLen, c.kdfAlgo)
	}
	c.key = newKeyBuffer(sqlCipherKeyLen)
	copy(c.key, key)
	Zeroize(key)

	// The MAC key is an independent PBKDF2 run over the encryption key with
	// the masked salt.
	macSalt := make([]byte, SaltLength)
	for i, b := range c.salt {
		macSalt[i] = b ^ c.hmacSaltMask
	}
	macKey := deriveKeyPBKDF2(c.key, macSalt, c.fastKDFIter, sqlCipherKeyLen, c.kdfAlgo)
	c.hmacKey = newKeyBuffer(sqlCipherKeyLen)
	copy(c.hmacKey, macKey)
	Zeroize(macKey)

	c.cts, err = newAESCTS(c.key)
	return err
}

// pgnoBytes encodes the page number for the MAC input per hmac_pgno.
func (c *sqlCipherCipher) pgnoBytes(page uint32) [4]byte {
	var b [4]byte
	if c.hmacPgno == hmacPgnoBE {
		binary.BigEndian.PutUint32(b[:], page)
	} else {
		binary.LittleEndian.PutUint32(b[:], page)
	}
	return b
}

// mac computes the page HMAC over buf[offset:n+16] (ciphertext plus IV)
// and the encoded page number.
func (c *sqlCipherCipher) mac(data []byte, offset, n int, page uint32) []byte {
	pgno := c.pgnoBytes(page)
	sum := hmacPage(kdfHashNew(c.hmacAlgo), c.hmacKey, data[offset:n+sqlCipherIVLen], pgno[:])
	return sum[:c.macLen()]
}

func (c *sqlCipherCipher) bodyOffset(page uint32) int {
	if page != 1 {
		return 0
	}
	return page1HeaderOffset(c.plaintextHeader, false)
}

func (c *sqlCipherCipher) EncryptPage(page uint32, data []byte, reserved int) error {
	if page == 0 {
		return &ValidationError{Param: "page", Value: page, Message: "page numbers are 1-based"}
	}
	need := c.Reserved()
	if need != reserved {
		return pageError(sqlCipherName, "encrypt", page, "reserved bytes mismatch")
	}
	n := len(data) - need
	offset := c.bodyOffset(page)

	iv := data[n : n+sqlCipherIVLen]
	if err := randomBytes(iv); err != nil {
		return err
	}
	if err := c.cts.Encrypt(iv, data[offset:n]); err != nil {
		return err
	}
	if c.hmacUse {
		macStart := n + sqlCipherIVLen
		copy(data[macStart:], c.mac(data, offset, n, page))
		// Clear the slack between MAC and end of reserve.
		for i := macStart + c.macLen(); i < len(data); i++ {
			data[i] = 0
		}
	}
	if page == 1 && c.plaintextHeader == 0 {
		copy(data[:SaltLength], c.salt[:])
	}
	return nil
}

func (c *sqlCipherCipher) DecryptPage(page uint32, data []byte, reserved int, checkMAC bool) error {
	if page == 0 {
		return &ValidationError{Param: "page", Value: page, Message: "page numbers are 1-based"}
	}
	need := c.Reserved()
	if need != reserved {
		return pageError(sqlCipherName, "decrypt", page, "reserved bytes mismatch")
	}
	n := len(data) - need
	offset := c.bodyOffset(page)

	if c.hmacUse && checkMAC {
		macStart := n + sqlCipherIVLen
		stored := data[macStart : macStart+c.macLen()]
		if !hmac.Equal(c.mac(data, offset, n, page), stored) {
			return pageError(sqlCipherName, "decrypt", page, "page authentication failed")
		}
	}
	iv := data[n : n+sqlCipherIVLen]
	if err := c.cts.Decrypt(iv, data[offset:n]); err != nil {
		return err
	}
	if page == 1 && c.plaintextHeader == 0 {
		copy(data[:SaltLength], MagicHeader)
	}
	return nil
}
