package line

import (
	"bytes"
	"errors"
	"strings"
	"testing"

	"github.com/danmuck/linectl/internal/testutil/testlog"
)

func texts(t *testing.T, msgs []Message) []string {
	t.Helper()
	out := make([]string, 0, len(msgs))
	for _, m := range msgs {
		if m.Err != nil {
			t.Fatalf("unexpected frame error: %v", m.Err)
		}
		out = append(out, m.Text)
	}
	return out
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestDecoderSeparateFeeds(t *testing.T) {
	testlog.Start(t)
	d := NewDecoder(DefaultDelimiter, DefaultLimits())
	var got []string
	got = append(got, texts(t, d.Feed([]byte("PING\n")))...)
	got = append(got, texts(t, d.Feed([]byte("PONG\n")))...)
	if !equal(got, []string{"PING", "PONG"}) {
		t.Fatalf("unexpected messages: %q", got)
	}
}

func TestDecoderSplitMidFrame(t *testing.T) {
	testlog.Start(t)
	d := NewDecoder(DefaultDelimiter, DefaultLimits())
	if msgs := d.Feed([]byte("AB")); len(msgs) != 0 {
		t.Fatalf("partial frame produced messages: %+v", msgs)
	}
	if d.Pending() != 2 {
		t.Fatalf("pending=%d", d.Pending())
	}
	got := texts(t, d.Feed([]byte("C\n")))
	if !equal(got, []string{"ABC"}) {
		t.Fatalf("unexpected messages: %q", got)
	}
	if d.Pending() != 0 {
		t.Fatalf("buffer not cleared, pending=%d", d.Pending())
	}
}

func TestDecoderEmptyFrames(t *testing.T) {
	testlog.Start(t)
	d := NewDecoder(DefaultDelimiter, DefaultLimits())
	got := texts(t, d.Feed([]byte{'\n'}))
	if !equal(got, []string{""}) {
		t.Fatalf("expected one empty message, got %q", got)
	}
	got = texts(t, d.Feed([]byte("a\n\nb\n")))
	if !equal(got, []string{"a", "", "b"}) {
		t.Fatalf("unexpected messages: %q", got)
	}
}

func TestDecoderChunkBoundaryIndependence(t *testing.T) {
	testlog.Start(t)
	stream := []byte("alpha\n\nβeta ünïcode\n日本語\nlast\ntrailing")
	want := strings.Split(string(stream), "\n")
	want = want[:len(want)-1]

	for size := 1; size <= len(stream); size++ {
		d := NewDecoder(DefaultDelimiter, DefaultLimits())
		var got []string
		for off := 0; off < len(stream); off += size {
			end := min(off+size, len(stream))
			got = append(got, texts(t, d.Feed(stream[off:end]))...)
		}
		if !equal(got, want) {
			t.Fatalf("chunk size %d: got=%q want=%q", size, got, want)
		}
		if d.Pending() != len("trailing") {
			t.Fatalf("chunk size %d: pending=%d", size, d.Pending())
		}
	}
}

func TestDecoderInvalidUTF8IsLocalToFrame(t *testing.T) {
	testlog.Start(t)
	d := NewDecoder(DefaultDelimiter, DefaultLimits())
	msgs := d.Feed([]byte("ok\n\xff\xfe\nnext\n"))
	if len(msgs) != 3 {
		t.Fatalf("expected 3 results, got %+v", msgs)
	}
	if msgs[0].Text != "ok" || msgs[0].Err != nil {
		t.Fatalf("unexpected first: %+v", msgs[0])
	}
	if !errors.Is(msgs[1].Err, ErrInvalidUTF8) {
		t.Fatalf("expected ErrInvalidUTF8, got %v", msgs[1].Err)
	}
	if msgs[2].Text != "next" || msgs[2].Err != nil {
		t.Fatalf("framing did not resume: %+v", msgs[2])
	}
}

func TestDecoderOversizedFrameResynchronizes(t *testing.T) {
	testlog.Start(t)
	d := NewDecoder(DefaultDelimiter, Limits{MaxFrameBytes: 8})

	msgs := d.Feed(bytes.Repeat([]byte("x"), 20))
	if len(msgs) != 1 || !errors.Is(msgs[0].Err, ErrFrameTooLarge) {
		t.Fatalf("expected single ErrFrameTooLarge, got %+v", msgs)
	}
	if msgs := d.Feed(bytes.Repeat([]byte("y"), 20)); len(msgs) != 0 {
		t.Fatalf("discarded run must stay silent, got %+v", msgs)
	}
	if msgs := d.Feed([]byte{'\n'}); len(msgs) != 0 {
		t.Fatalf("resync delimiter must not emit a message, got %+v", msgs)
	}
	got := texts(t, d.Feed([]byte("fine\n12345678\n")))
	if !equal(got, []string{"fine", "12345678"}) {
		t.Fatalf("unexpected messages after resync: %q", got)
	}
}

func TestDecoderCustomDelimiter(t *testing.T) {
	testlog.Start(t)
	d := NewDecoder(';', DefaultLimits())
	got := texts(t, d.Feed([]byte("a;b\nc;")))
	if !equal(got, []string{"a", "b\nc"}) {
		t.Fatalf("unexpected messages: %q", got)
	}
}

func TestDecoderReset(t *testing.T) {
	testlog.Start(t)
	d := NewDecoder(DefaultDelimiter, Limits{MaxFrameBytes: 2})
	d.Feed([]byte("abc"))
	d.Reset()
	got := texts(t, d.Feed([]byte("ok\n")))
	if !equal(got, []string{"ok"}) {
		t.Fatalf("unexpected messages after reset: %q", got)
	}
}
