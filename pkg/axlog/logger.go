// Package axlog defines the structured logger used across netsync.
package axlog

type Logger interface {
	Info(s string, keyValues ...any)
	Error(s string, keyValues ...any)
	Debug(s string, keyValues ...any)
	Warn(s string, keyValues ...any)
}

type nop struct{}

func (nop) Info(string, ...any)  {}
func (nop) Error(string, ...any) {}
func (nop) Debug(string, ...any) {}
func (nop) Warn(string, ...any)  {}

// Nop returns a Logger that discards everything.
func Nop() Logger {
	return nop{}
}

// OrNop returns l, or a no-op logger when l is nil.
func OrNop(l Logger) Logger {
	if l == nil {
		return nop{}
	}
	return l
}
