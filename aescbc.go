package pagecodec

// Legacy AES-CBC schemes in the wxSQLite3 on-disk format: whole-page
// CBC-CTS with a deterministic per-page IV, no authentication, no reserved
// tail. Two registered schemes share the implementation and differ only in
// key length.

const (
	aes128CBCName = "aes128cbc"
	aes256CBCName = "aes256cbc"

	aesCBCKDFIterDefault = 4001
)

func aesCBCParams() []CipherParam {
	return []CipherParam{
		{Name: ParamKDFIter, Default: aesCBCKDFIterDefault, Value: aesCBCKDFIterDefault, Min: 1, Max: 0x7fffffff},
		{Name: ParamLegacy, Default: 0, Value: 0, Min: 0, Max: 1},
		{Name: ParamLegacyPageSize, Default: 0, Value: 0, Min: 0, Max: MaxPageSize},
	}
}

type aes128CBCScheme struct{}

func (aes128CBCScheme) Name() string { return aes128CBCName }
func (aes128CBCScheme) DefaultParams() []CipherParam { return aesCBCParams() }

func (aes128CBCScheme) Allocate(params *ParamStore) (Cipher, error) {
	return newAESCBCCipher(aes128CBCName, 16, params)
}

type aes256CBCScheme struct{}

func (aes256CBCScheme) Name() string { return aes256CBCName }
func (aes256CBCScheme) DefaultParams() []CipherParam { return aesCBCParams() }

func (aes256CBCScheme) Allocate(params *ParamStore) (Cipher, error) {
	return newAESCBCCipher(aes256CBCName, 32, params)
}

type aesCBCCipher struct {
	scheme   string
	keyLen   int
	kdfIter  int
	legacy   bool
	pageSize int
	key      []byte
	salt     [SaltLength]byte
	cts      *aesCTS
}

func newAESCBCCipher(scheme string, keyLen int, params *ParamStore) (*aesCBCCipher, error) {
	c := &aesCBCCipher{
		scheme:  scheme,
		keyLen:  keyLen,
		kdfIter: params.getOr(scheme, ParamKDFIter, aesCBCKDFIterDefault),
		legacy:  params.getOr(scheme, ParamLegacy, 0) != 0,
	}
	c.pageSize = legacyPageSize(c.legacy, params.getOr(scheme, ParamLegacyPageSize, 0))
	return c, nil
}

func (c *aesCBCCipher) Scheme() string { return c.scheme }
func (c *aesCBCCipher) Legacy() bool   { return c.legacy }
func (c *aesCBCCipher) PageSize() int  { return c.pageSize }
func (c *aesCBCCipher) Reserved() int  { return 0 }
func (c *aesCBCCipher) Salt() []byte   { return c.salt[:] }

func (c *aesCBCCipher) Clone() Cipher {
	dup := *c
	if c.key != nil {
		dup.key = newKeyBuffer(len(c.key))
		copy(dup.key, c.key)
	}
	return &dup
}

func (c *aesCBCCipher) Free() {
	if c.key != nil {
		releaseKeyBuffer(c.key)
	}
	*c = aesCBCCipher{}
}

func (c *aesCBCCipher) GenerateKey(passphrase []byte, rekey bool, salt []byte) error {
	keyOnly, err := acquireSalt(c.salt[:], rekey, salt)
	if err != nil {
		return err
	}
	key, rawSalt, ok, err := extractRawKey(passphrase, keyOnly, c.keyLen)
	if err != nil {
		return err
	}
	if ok {
		if rawSalt != nil {
			copy(c.salt[:], rawSalt)
		}
	} else {
		key = deriveKeyPBKDF2(passphrase, c.salt[:], c.kdfIter, c.keyLen, kdfSHA1)
	}
	c.key = newKeyBuffer(c.keyLen)
	copy(c.key, key)
	Zeroize(key)
	c.cts, err = newAESCTS(c.key)
	return err
}

func (c *aesCBCCipher) bodyOffset(page uint32) int {
	if page == 1 {
		return page1HeaderOffset(0, false)
	}
	return 0
}

func (c *aesCBCCipher) EncryptPage(page uint32, data []byte, reserved int) error {
	if page == 0 {
		return &ValidationError{Param: "page", Value: page, Message: "page numbers are 1-based"}
	}
	if c.legacy && reserved != 0 {
		return pageError(c.scheme, "encrypt", page, "reserved bytes not supported")
	}
	offset := c.bodyOffset(page)
	iv := pageIVSHA1(page, c.key)
	if err := c.cts.Encrypt(iv[:], data[offset:]); err != nil {
		return err
	}
	if page == 1 {
		copy(data[:SaltLength], c.salt[:])
	}
	return nil
}

func (c *aesCBCCipher) DecryptPage(page uint32, data []byte, reserved int, checkMAC bool) error {
	if page == 0 {
		return &ValidationError{Param: "page", Value: page, Message: "page numbers are 1-based"}
	}
	if c.legacy && reserved != 0 {
		return pageError(c.scheme, "decrypt", page, "reserved bytes not supported")
	}
	offset := c.bodyOffset(page)
	iv := pageIVSHA1(page, c.key)
	if err := c.cts.Decrypt(iv[:], data[offset:]); err != nil {
		return err
	}
	if page == 1 {
		copy(data[:SaltLength], MagicHeader)
	}
	return nil
}
