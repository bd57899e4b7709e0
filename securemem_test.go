package pagecodec

import (
	"bytes"
	"testing"
)

func TestZeroize(t *testing.T) {
	b := bytes.Repeat([]byte{0xFF}, 64)
	Zeroize(b)
	for i, v := range b {
		if v != 0 {
			t.Fatalf("byte %d not cleared", i)
		}
	}
	Zeroize(nil) // must not panic
}

func TestSecureMemoryMode(t *testing.T) {
	old := GetSecureMemoryMode()
	defer SetSecureMemoryMode(old)

	SetSecureMemoryMode(SecureMemoryFill)
	if GetSecureMemoryMode() != SecureMemoryFill {
		t.Fatal("mode not stored")
	}
	b := newKeyBuffer(32)
	copy(b, bytes.Repeat([]byte{1}, 32))
	releaseKeyBuffer(b)
	var zero [32]byte
	if !bytes.Equal(b, zero[:]) {
		t.Fatal("key buffer not wiped on release")
	}
}

type recordingLocker struct {
	locked   int
	unlocked int
}

func (r *recordingLocker) Lock(b []byte) error   { r.locked++; return nil }
func (r *recordingLocker) Unlock(b []byte) error { r.unlocked++; return nil }

func TestSecureMemoryLockHook(t *testing.T) {
	old := GetSecureMemoryMode()
	defer func() {
		SetSecureMemoryMode(old)
		SetMemoryLocker(nil)
	}()

	rec := &recordingLocker{}
	SetMemoryLocker(rec)
	SetSecureMemoryMode(SecureMemoryLock)

	b := newKeyBuffer(16)
	releaseKeyBuffer(b)
	if rec.locked != 1 || rec.unlocked != 1 {
		t.Fatalf("locker calls = (%d, %d), want (1, 1)", rec.locked, rec.unlocked)
	}
}
