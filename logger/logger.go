package logger

// Logger is the minimal structured logging interface used across the
// platform core. Implementations accept alternating key/value pairs as
// variadic arguments, which keeps the interface small and easy to mock.
type Logger interface {
	Debug(msg string, keyvals ...any)
	Info(msg string, keyvals ...any)
	Warn(msg string, keyvals ...any)
	Error(msg string, keyvals ...any)
}
