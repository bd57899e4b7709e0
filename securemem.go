package pagecodec

import "sync/atomic"

// SecureMemoryMode selects how buffers holding key material are handled on
// release.
type SecureMemoryMode int32

const (
	// SecureMemoryNone releases key buffers without special treatment
	// beyond the unconditional zeroisation every Free performs.
	SecureMemoryNone SecureMemoryMode = iota
	// SecureMemoryFill guarantees key buffers are overwritten with zeros by
	// a wipe the optimizer cannot elide.
	SecureMemoryFill
	// SecureMemoryLock additionally requests that key buffers be pinned
	// against swap. Page locking is delegated to the host via
	// SetMemoryLocker.
	SecureMemoryLock
)

var secureMemoryMode atomic.Int32

// SetSecureMemoryMode configures the process-wide key-memory hygiene level.
func SetSecureMemoryMode(m SecureMemoryMode) {
	secureMemoryMode.Store(int32(m))
}

// GetSecureMemoryMode returns the current key-memory hygiene level.
func GetSecureMemoryMode() SecureMemoryMode {
	return SecureMemoryMode(secureMemoryMode.Load())
}

// MemoryLocker pins and unpins buffers holding key material when
// SecureMemoryLock is active. The default implementation does nothing; hosts
// with an mlock-style facility install their own.
type MemoryLocker interface {
	Lock(b []byte) error
	Unlock(b []byte) error
}

type nopLocker struct{}

func (nopLocker) Lock(b []byte) error   { return nil }
func (nopLocker) Unlock(b []byte) error { return nil }

var memoryLocker MemoryLocker = nopLocker{}

// SetMemoryLocker installs the page-locking hook used in SecureMemoryLock
// mode. Passing nil restores the no-op default.
func SetMemoryLocker(l MemoryLocker) {
	if l == nil {
		memoryLocker = nopLocker{}
		return
	}
	memoryLocker = l
}

// wipeSink defeats dead-store elimination in Zeroize: the final byte of the
// wiped buffer is published through a package variable, so the compiler must
// consider the stores observable.
var wipeSink byte

// Zeroize overwrites b with zeros. The write loop is kept observable so the
// optimizer cannot remove it even when b is freed immediately after.
func Zeroize(b []byte) {
	for i := range b {
		b[i] = 0
	}
	if len(b) > 0 {
		wipeSink = b[len(b)-1]
	}
}

// newKeyBuffer allocates a buffer for key material, honouring the secure
// memory mode.
func newKeyBuffer(n int) []byte {
	b := make([]byte, n)
	if GetSecureMemoryMode() == SecureMemoryLock {
		if err := memoryLocker.Lock(b); err != nil {
			logger().Debug().Err(err).Msg("key buffer lock failed")
		}
	}
	return b
}

// releaseKeyBuffer zeroises and unpins a key buffer.
func releaseKeyBuffer(b []byte) {
	Zeroize(b)
	if GetSecureMemoryMode() == SecureMemoryLock {
		if err := memoryLocker.Unlock(b); err != nil {
			logger().Debug().Err(err).Msg("key buffer unlock failed")
		}
	}
}
