package pagecodec

import (
	"bytes"
	"errors"
	"testing"
)

func newTestConnection(t *testing.T, cipher string) *Connection {
	t.Helper()
	conn := NewConnection()
	if cipher != "" {
		if err := conn.SetDefaultCipher(cipher); err != nil {
			t.Fatalf("select cipher %q: %v", cipher, err)
		}
	}
	return conn
}

func TestCodecPassThroughWhenInactive(t *testing.T) {
	conn := newTestConnection(t, "")
	defer conn.Close()
	if err := conn.CodecAttach(0, nil); err != nil {
		t.Fatalf("attach without key: %v", err)
	}
	if conn.Codec(0) != nil {
		t.Fatal("keyless attach on main installed a codec")
	}
	if conn.CodecGetKey(0) != 0 {
		t.Fatal("unencrypted main reports a key")
	}
}

func TestCodecAttachTransformRoundTrip(t *testing.T) {
	setDeterministicRand(t, 50)
	conn := newTestConnection(t, chacha20Name)
	defer conn.Close()

	if err := conn.CodecAttach(0, []byte("passphrase")); err != nil {
		t.Fatalf("attach: %v", err)
	}
	codec := conn.Codec(0)
	if codec == nil || !codec.IsEncrypted() {
		t.Fatal("codec not installed")
	}
	if conn.CodecGetKey(0) != 1 {
		t.Fatal("encrypted main does not report a key")
	}
	if err := codec.SizeChange(4096, codec.WriteCipherReserved()); err != nil {
		t.Fatalf("size change: %v", err)
	}

	plain := makePage(4096, 0x60)
	enc, err := codec.PageTransform(plain, 2, ModeWriteMain)
	if err != nil {
		t.Fatalf("write transform: %v", err)
	}
	if &enc[0] == &plain[0] {
		t.Fatal("write transform did not use the scratch buffer")
	}
	if bytes.Equal(enc, plain) {
		t.Fatal("write transform left the page plaintext")
	}

	loaded := append([]byte(nil), enc...)
	out, err := codec.PageTransform(loaded, 2, ModeLoad)
	if err != nil {
		t.Fatalf("load transform: %v", err)
	}
	if !bytes.Equal(out, expectDecrypted(plain, enc, chacha20Reserved)) {
		t.Fatal("load transform did not restore the plaintext")
	}
}

func TestCodecPageZeroRejected(t *testing.T) {
	setDeterministicRand(t, 51)
	conn := newTestConnection(t, chacha20Name)
	defer conn.Close()
	conn.CodecAttach(0, []byte("p"))
	codec := conn.Codec(0)
	codec.SizeChange(4096, codec.WriteCipherReserved())
	_, err := codec.PageTransform(make([]byte, 4096), 0, ModeWriteMain)
	if !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("page 0: got %v, want ErrInvalidArgument", err)
	}
}

func TestCodecSizeChangeValidation(t *testing.T) {
	codec := newCodec("main", newParamStore())
	if err := codec.SizeChange(1000, 0); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("page size 1000: got %v", err)
	}
	if err := codec.SizeChange(512, 64); !errors.Is(err, ErrInvalidArgument) {
		t.Fatalf("512-byte page with 64 reserved: got %v", err)
	}
	if err := codec.SizeChange(512, 32); err != nil {
		t.Fatalf("512-byte page with 32 reserved: %v", err)
	}
	if len(codec.scratch) != 512 {
		t.Fatal("scratch buffer not reallocated on size change")
	}
}

func TestCodecKeyPropagationToAttachedDatabase(t *testing.T) {
	setDeterministicRand(t, 52)
	conn := newTestConnection(t, chacha20Name)
	defer conn.Close()
	conn.RegisterDatabase(2, "aux")

	if err := conn.CodecAttach(0, []byte("main key")); err != nil {
		t.Fatalf("attach main: %v", err)
	}
	// Attached database opened without a key adopts main's encryption.
	if err := conn.CodecAttach(2, nil); err != nil {
		t.Fatalf("attach aux: %v", err)
	}
	aux := conn.Codec(2)
	if aux == nil || !aux.IsEncrypted() {
		t.Fatal("attached database did not inherit encryption")
	}
	if !bytes.Equal(aux.readCipher.Salt(), conn.Codec(0).readCipher.Salt()) {
		t.Fatal("attached database has a different salt than main")
	}
}

func TestCodecWrongPassphrasePage1(t *testing.T) {
	setDeterministicRand(t, 53)
	connA := newTestConnection(t, chacha20Name)
	defer connA.Close()
	connA.CodecAttach(0, []byte("right key"))
	codecA := connA.Codec(0)
	codecA.SizeChange(4096, codecA.WriteCipherReserved())

	plain := makePage1(4096, 0x70)
	enc, err := codecA.PageTransform(plain, 1, ModeWriteMain)
	if err != nil {
		t.Fatalf("encrypt: %v", err)
	}
	encCopy := append([]byte(nil), enc...)

	connB := newTestConnection(t, chacha20Name)
	defer connB.Close()
	connB.CodecAttach(0, []byte("wrong key"))
	codecB := connB.Codec(0)
	codecB.SizeChange(4096, codecB.WriteCipherReserved())

	_, err = codecB.PageTransform(encCopy, 1, ModeLoad)
	if !errors.Is(err, ErrNotADatabase) {
		t.Fatalf("wrong passphrase on page 1: got %v, want ErrNotADatabase", err)
	}
}

// Scenario: rekey from ChaCha20 (reserved 32) to AES-256-CBC (reserved 0).
// During the vacuum the codec holds both cipher instances: loads decrypt
// with ChaCha20, main writes encrypt with AES, journal writes use ChaCha20.
// After commit the read cipher is dropped and reads succeed under AES.
func TestRekeyChaCha20ToAES256(t *testing.T) {
	setDeterministicRand(t, 54)
	conn := newTestConnection(t, chacha20Name)
	defer conn.Close()
	if err := conn.CodecAttach(0, []byte("old key")); err != nil {
		t.Fatalf("attach: %v", err)
	}
	codec := conn.Codec(0)
	codec.SizeChange(4096, codec.WriteCipherReserved())

	// Write a page under the old cipher.
	plain := makePage(4096, 0x55)
	oldEnc, err := codec.PageTransform(plain, 2, ModeWriteMain)
	if err != nil {
		t.Fatalf("write under old key: %v", err)
	}
	oldPage := append([]byte(nil), oldEnc...)

	// Switch the configured scheme and begin the rekey.
	if err := conn.SetDefaultCipher(aes256CBCName); err != nil {
		t.Fatalf("switch scheme: %v", err)
	}
	op, err := conn.RekeyBegin(0, []byte("new key"), 4096, chacha20Reserved)
	if err != nil {
		t.Fatalf("rekey begin: %v", err)
	}
	if !op.NeedVacuum {
		t.Fatal("reserve 32 -> 0 must require a vacuum")
	}
	if codec.ReadReserved() != chacha20Reserved || codec.WriteReserved() != 0 {
		t.Fatalf("split reserves = (%d, %d), want (32, 0)",
			codec.ReadReserved(), codec.WriteReserved())
	}

	// The vacuum loads each page with the read cipher...
	loaded := append([]byte(nil), oldPage...)
	out, err := codec.PageTransform(loaded, 2, ModeLoad)
	if err != nil {
		t.Fatalf("load during rekey: %v", err)
	}
	if !bytes.Equal(out, expectDecrypted(plain, oldPage, chacha20Reserved)) {
		t.Fatal("load during rekey did not decrypt with the old cipher")
	}

	// ...journals it under the read cipher...
	journal, err := codec.PageTransform(out, 2, ModeWriteJournal)
	if err != nil {
		t.Fatalf("journal write during rekey: %v", err)
	}
	jr := append([]byte(nil), journal...)
	und, err := codec.PageTransform(jr, 2, ModeUndoJournal)
	if err != nil {
		t.Fatalf("journal undo during rekey: %v", err)
	}
	if !bytes.Equal(und, expectDecrypted(plain, journal, chacha20Reserved)) {
		t.Fatal("journal page not decryptable with the read cipher")
	}

	// ...and rewrites it under the write cipher.
	newEnc, err := codec.PageTransform(plain, 2, ModeWriteMain)
	if err != nil {
		t.Fatalf("main write during rekey: %v", err)
	}
	newPage := append([]byte(nil), newEnc...)

	op.Commit()
	if codec.ReadReserved() != reservedUnset || codec.WriteReserved() != reservedUnset {
		t.Fatal("split reserves not cleared after commit")
	}
	if codec.Reserved() != 0 {
		t.Fatalf("reserved after rekey = %d, want 0", codec.Reserved())
	}

	// Reads now go through AES-256-CBC.
	out, err = codec.PageTransform(newPage, 2, ModeLoad)
	if err != nil {
		t.Fatalf("load after rekey: %v", err)
	}
	if !bytes.Equal(out, plain) {
		t.Fatal("page written during rekey is unreadable after commit")
	}

	// The old ChaCha20 page must no longer decrypt cleanly: with the AES
	// read cipher it yields different bytes.
	stale := append([]byte(nil), oldPage...)
	out, err = codec.PageTransform(stale, 2, ModeLoad)
	if err == nil && bytes.Equal(out, plain) {
		t.Fatal("old-key page still readable after rekey")
	}
}

func TestRekeyRollbackRestoresWriteCipher(t *testing.T) {
	setDeterministicRand(t, 55)
	conn := newTestConnection(t, chacha20Name)
	defer conn.Close()
	conn.CodecAttach(0, []byte("old key"))
	codec := conn.Codec(0)
	codec.SizeChange(4096, codec.WriteCipherReserved())

	plain := makePage(4096, 0x66)
	enc, _ := codec.PageTransform(plain, 3, ModeWriteMain)
	page := append([]byte(nil), enc...)

	op, err := conn.RekeyBegin(0, []byte("new key"), 4096, chacha20Reserved)
	if err != nil {
		t.Fatalf("rekey begin: %v", err)
	}
	op.Rollback()

	// Writes encrypt under the original key again.
	enc2, err := codec.PageTransform(plain, 3, ModeWriteMain)
	if err != nil {
		t.Fatalf("write after rollback: %v", err)
	}
	out, err := codec.PageTransform(append([]byte(nil), enc2...), 3, ModeLoad)
	if err != nil || !bytes.Equal(out, expectDecrypted(plain, enc2, chacha20Reserved)) {
		t.Fatalf("page written after rollback unreadable: %v", err)
	}
	out, err = codec.PageTransform(append([]byte(nil), page...), 3, ModeLoad)
	if err != nil || !bytes.Equal(out, expectDecrypted(plain, page, chacha20Reserved)) {
		t.Fatalf("old page unreadable after rollback: %v", err)
	}
}

func TestRekeyToPlaintext(t *testing.T) {
	setDeterministicRand(t, 56)
	conn := newTestConnection(t, chacha20Name)
	defer conn.Close()
	conn.CodecAttach(0, []byte("key"))
	codec := conn.Codec(0)
	codec.SizeChange(4096, codec.WriteCipherReserved())

	plain := makePage(4096, 0x67)
	enc, _ := codec.PageTransform(plain, 2, ModeWriteMain)
	page := append([]byte(nil), enc...)

	op, err := conn.RekeyBegin(0, nil, 4096, chacha20Reserved)
	if err != nil {
		t.Fatalf("rekey begin: %v", err)
	}
	if !op.NeedVacuum {
		t.Fatal("decrypting must vacuum away the reserved bytes")
	}

	// Loads still decrypt; main writes pass through.
	out, err := codec.PageTransform(append([]byte(nil), page...), 2, ModeLoad)
	if err != nil || !bytes.Equal(out, expectDecrypted(plain, page, chacha20Reserved)) {
		t.Fatalf("load during decrypt-rekey failed: %v", err)
	}
	w, err := codec.PageTransform(plain, 2, ModeWriteMain)
	if err != nil {
		t.Fatalf("write during decrypt-rekey: %v", err)
	}
	if !bytes.Equal(w, plain) {
		t.Fatal("main write during decrypt-rekey is not plaintext")
	}

	op.Commit()
	if conn.Codec(0) != nil {
		t.Fatal("codec not removed after decrypting the database")
	}
}

func TestRekeyEncryptPlaintextDatabase(t *testing.T) {
	setDeterministicRand(t, 57)
	conn := newTestConnection(t, aes256CBCName)
	defer conn.Close()

	op, err := conn.RekeyBegin(0, []byte("first key"), 4096, 0)
	if err != nil {
		t.Fatalf("rekey begin: %v", err)
	}
	codec := conn.Codec(0)
	if codec == nil {
		t.Fatal("codec not created")
	}
	if op.NeedVacuum {
		t.Fatal("reserve 0 -> 0 should rewrite in place")
	}
	// Loads pass through while the file is still plaintext.
	plain := makePage(4096, 0x68)
	out, err := codec.PageTransform(append([]byte(nil), plain...), 2, ModeLoad)
	if err != nil || !bytes.Equal(out, plain) {
		t.Fatalf("load of plaintext page altered data: %v", err)
	}
	enc, err := codec.PageTransform(plain, 2, ModeWriteMain)
	if err != nil {
		t.Fatalf("write during encrypt-rekey: %v", err)
	}
	page := append([]byte(nil), enc...)

	op.Commit()
	out, err = codec.PageTransform(page, 2, ModeLoad)
	if err != nil || !bytes.Equal(out, plain) {
		t.Fatalf("page unreadable after encrypting database: %v", err)
	}
}

func TestCodecFreeZeroizes(t *testing.T) {
	setDeterministicRand(t, 58)
	conn := newTestConnection(t, chacha20Name)
	conn.CodecAttach(0, []byte("key"))
	codec := conn.Codec(0)
	inner := codec.readCipher.(*chacha20Cipher)
	key := inner.key
	conn.Close()
	var zero [chacha20KeyLen]byte
	if !bytes.Equal(key, zero[:]) {
		t.Fatal("key material not zeroized on free")
	}
	if conn.Codec(0) != nil {
		t.Fatal("codec still attached after Close")
	}
}
