package pagecodec

import (
	"io"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// The package logs codec lifecycle events (attach, rekey, detection, size
// changes) at debug level. By default everything is discarded; hosts that
// want the trace install a logger with SetLogger. Key material is never
// logged.

var pkgLogger atomic.Pointer[zerolog.Logger]

func init() {
	nop := zerolog.New(io.Discard)
	pkgLogger.Store(&nop)
}

// SetLogger installs the logger used for codec diagnostics.
func SetLogger(l zerolog.Logger) {
	pkgLogger.Store(&l)
}

func logger() *zerolog.Logger {
	return pkgLogger.Load()
}
