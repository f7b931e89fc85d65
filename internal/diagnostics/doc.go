// Package diagnostics turns in-process panics into crash reports.
//
// A CrashReporter is deferred at the top of goroutines worth watching. When
// one panics it serializes a CrashDump (panic value, stack, runtime and host
// state, redacted environment) and hands the JSON to a CaptureFunc, which in
// crashrelay is the pipeline's Capture. The report then follows the normal
// lifecycle like any other.
//
// ResourceMonitor keeps a short history of runtime snapshots so a dump can
// show how the process got where it was.
package diagnostics
