package monitoring

import "log"

// Logf is the diagnostic logger shared by the gridding packages. It defaults
// to log.Printf; SetLogger swaps or mutes it.
var Logf func(format string, v ...interface{}) = log.Printf

// SetLogger replaces the package logger. Passing nil installs a no-op logger.
func SetLogger(f func(format string, v ...interface{})) {
	if f == nil {
		Logf = func(string, ...interface{}) {}
		return
	}
	Logf = f
}

// Warnf logs through Logf with a WARN marker after the component prefix, the
// way the gridder reports clipped supports and skipped inputs.
func Warnf(component, format string, v ...interface{}) {
	Logf("["+component+"] WARN: "+format, v...)
}
