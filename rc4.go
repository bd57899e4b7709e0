package pagecodec

import (
	"crypto/md5"
	"crypto/rc4"
	"encoding/binary"
)

// RC4 scheme in the legacy System.Data.SQLite / wxSQLite3 format: each page
// is encrypted with RC4 under a per-page key derived from MD5, with no
// authentication and no reserved tail. Kept only for reading old files; the
// format is not IND-CPA and new databases should use an AEAD scheme.

const (
	rc4Name           = "rc4"
	rc4KeyLen         = 16
	rc4KDFIterDefault = 4001
)

type rc4Scheme struct{}

func (rc4Scheme) Name() string { return rc4Name }

func (rc4Scheme) DefaultParams() []CipherParam {
	return []CipherParam{
		{Name: ParamKDFIter, Default: rc4KDFIterDefault, Value: rc4KDFIterDefault, Min: 1, Max: 0x7fffffff},
		{Name: ParamLegacy, Default: 1, Value: 1, Min: 1, Max: 1},
		{Name: ParamLegacyPageSize, Default: 0, Value: 0, Min: 0, Max: MaxPageSize},
	}
}

func (rc4Scheme) Allocate(params *ParamStore) (Cipher, error) {
	c := &rc4Cipher{
		kdfIter: params.getOr(rc4Name, ParamKDFIter, rc4KDFIterDefault),
	}
	c.pageSize = legacyPageSize(true, params.getOr(rc4Name, ParamLegacyPageSize, 0))
	return c, nil
}

type rc4Cipher struct {
	kdfIter  int
	pageSize int
	key      []byte
	salt     [SaltLength]byte
}

func (c *rc4Cipher) Scheme() string { return rc4Name }
func (c *rc4Cipher) Legacy() bool   { return true }
func (c *rc4Cipher) PageSize() int  { return c.pageSize }
func (c *rc4Cipher) Reserved() int  { return 0 }
func (c *rc4Cipher) Salt() []byte   { return c.salt[:] }

func (c *rc4Cipher) Clone() Cipher {
	dup := *c
	if c.key != nil {
		dup.key = newKeyBuffer(len(c.key))
		copy(dup.key, c.key)
	}
	return &dup
}

func (c *rc4Cipher) Free() {
	if c.key != nil {
		releaseKeyBuffer(c.key)
	}
	*c = rc4Cipher{}
}

func (c *rc4Cipher) GenerateKey(passphrase []byte, rekey bool, salt []byte) error {
	keyOnly, err := acquireSalt(c.salt[:], rekey, salt)
	if err != nil {
		return err
	}
	key, rawSalt, ok, err := extractRawKey(passphrase, keyOnly, rc4KeyLen)
	if err != nil {
		return err
	}
	if ok {
		if rawSalt != nil {
			copy(c.salt[:], rawSalt)
		}
	} else {
		key = deriveKeyPBKDF2(passphrase, c.salt[:], c.kdfIter, rc4KeyLen, kdfSHA1)
	}
	c.key = newKeyBuffer(rc4KeyLen)
	copy(c.key, key)
	Zeroize(key)
	return nil
}

// pageKey derives the per-page RC4 key: MD5(LE32(page) || key). Inputs are
// public, so MD5's speed is all that matters here.
func (c *rc4Cipher) pageKey(page uint32) [md5.Size]byte {
	var seed [4]byte
	binary.LittleEndian.PutUint32(seed[:], page)
	h := md5.New()
	h.Write(seed[:])
	h.Write(c.key)
	var out [md5.Size]byte
	h.Sum(out[:0])
	return out
}

func (c *rc4Cipher) transform(page uint32, data []byte, reserved int, op string) error {
	if page == 0 {
		return &ValidationError{Param: "page", Value: page, Message: "page numbers are 1-based"}
	}
	if reserved != 0 {
		return pageError(rc4Name, op, page, "reserved bytes not supported")
	}
	offset := 0
	if page == 1 {
		offset = page1Offset
	}
	pk := c.pageKey(page)
	stream, err := rc4.NewCipher(pk[:])
	if err != nil {
		return err
	}
	stream.XORKeyStream(data[offset:], data[offset:])
	Zeroize(pk[:])
	return nil
}

func (c *rc4Cipher) EncryptPage(page uint32, data []byte, reserved int) error {
	if err := c.transform(page, data, reserved, "encrypt"); err != nil {
		return err
	}
	if page == 1 {
		copy(data[:SaltLength], c.salt[:])
	}
	return nil
}

func (c *rc4Cipher) DecryptPage(page uint32, data []byte, reserved int, checkMAC bool) error {
	if err := c.transform(page, data, reserved, "decrypt"); err != nil {
		return err
	}
	if page == 1 {
		copy(data[:SaltLength], MagicHeader)
	}
	return nil
}
