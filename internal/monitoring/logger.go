package monitoring

import "log"

// Logf is the package-level diagnostic logger used across the locating
// pipeline. It defaults to log.Printf; tests or embedding binaries can
// redirect or mute it via SetLogger.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}
