// Package sink provides session.Sink implementations. All of them are called
// from the session's receive goroutine and are safe for concurrent readers.
package sink
