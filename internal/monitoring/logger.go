// Package monitoring carries the process-wide diagnostic loggers shared by
// the acquisition driver, the timing engine, and the collaborator layers.
package monitoring

import "log"

// Logf is the package-level diagnostic logger. It defaults to log.Printf but
// may be replaced by SetLogger. Tests or production code can redirect or mute it.
var Logf func(format string, v ...interface{}) = log.Printf

// Debugf logs high-frequency diagnostics (per-sample filtering, debounce
// decisions). It is a no-op unless enabled with SetDebug; the update loop runs
// at 100 Hz and would otherwise flood the log.
var Debugf func(format string, v ...interface{}) = func(string, ...interface{}) {}

// SetLogger replaces the package logger. Passing nil will set a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// SetDebug enables or disables the debug logger. When enabled, Debugf routes
// through the current Logf.
func SetDebug(enabled bool) {
	if enabled {
		Debugf = func(format string, v ...interface{}) { Logf(format, v...) }
		return
	}
	Debugf = func(string, ...interface{}) {}
}
