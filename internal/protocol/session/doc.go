// Package session owns the single-peer connection lifecycle for line framing.
//
// Ownership boundary:
// - lifecycle state (disconnected, connecting, connected, failed)
// - the receive loop that feeds transport bytes through a line.Decoder
// - send, which encodes one message and writes it synchronously
// - caller opt-in connect retry with backoff
//
// A Session holds at most one link (Conn + Decoder + receive goroutine).
// Sink callbacks run on the receive goroutine and must not call Close
// synchronously; Close waits for that goroutine to exit.
package session
