package wsconn

// Logger is the diagnostic sink the loop writes protocol failures,
// compression fallback, and close-handshake timeouts to. A nil Logger
// in Config is replaced with a no-op at construction time.
type Logger interface {
	Debugf(format string, args ...any)
	Infof(format string, args ...any)
	Warnf(format string, args ...any)
	Errorf(format string, args ...any)
}

type nopLogger struct{}

func (nopLogger) Debugf(string, ...any) {}
func (nopLogger) Infof(string, ...any)  {}
func (nopLogger) Warnf(string, ...any)  {}
func (nopLogger) Errorf(string, ...any) {}
