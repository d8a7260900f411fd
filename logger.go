package gowsc

import "log"

// Logger is the sink the connection's loop writes diagnostics to:
// protocol failures, compression fallback, and close-handshake
// timeouts. Implementations must not block.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

// stdLogger is the default Logger, backed by the standard library's
// log package, matching the teacher's direct use of log throughout
// its own server and examples.
type stdLogger struct {
	*log.Logger
}

func (l stdLogger) Debugf(format string, args ...any) { l.Printf("DEBUG "+format, args...) }
func (l stdLogger) Infof(format string, args ...any)  { l.Printf("INFO "+format, args...) }
func (l stdLogger) Warnf(format string, args ...any)  { l.Printf("WARN "+format, args...) }
func (l stdLogger) Errorf(format string, args ...any) { l.Printf("ERROR "+format, args...) }

// DefaultLogger returns the stdlib-log-backed implementation used
// when Options.SetLogger is never called.
func DefaultLogger() Logger {
	return stdLogger{log.Default()}
}
