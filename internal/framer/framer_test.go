package framer

import (
	"bytes"
	"testing"
)

func TestLineModeAdvancesPastDelimiterOnly(t *testing.T) {
	f := New()
	if err := f.Feed([]byte("hello\nworld\n")); err != nil {
		t.Fatalf("Feed: %v", err)
	}

	line, ok := f.Emit()
	if !ok || string(line) != "hello" {
		t.Fatalf("first line = %q, %v; want %q, true", line, ok, "hello")
	}

	// This is the regression test for the off-by-one the spec flags: if the
	// framer advanced i+2 instead of i+1, the leading 'w' of "world" would
	// be silently dropped here.
	line, ok = f.Emit()
	if !ok || string(line) != "world" {
		t.Fatalf("second line = %q, %v; want %q, true", line, ok, "world")
	}
}

func TestLineModeWaitsForDelimiter(t *testing.T) {
	f := New()
	if err := f.Feed([]byte("partial")); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if _, ok := f.Emit(); ok {
		t.Fatalf("Emit should not produce a line without a delimiter")
	}
	if err := f.Feed([]byte(" line\n")); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	line, ok := f.Emit()
	if !ok || string(line) != "partial line" {
		t.Fatalf("line = %q, %v; want %q, true", line, ok, "partial line")
	}
}

func TestBinaryModeEmitsExactSize(t *testing.T) {
	f := New()
	f.SetMode(4)
	if err := f.Feed([]byte{1, 2}); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	if _, ok := f.Emit(); ok {
		t.Fatalf("Emit should not fire before size bytes are buffered")
	}
	if err := f.Feed([]byte{3, 4, 5}); err != nil {
		t.Fatalf("Feed: %v", err)
	}
	chunk, ok := f.Emit()
	if !ok || !bytes.Equal(chunk, []byte{1, 2, 3, 4}) {
		t.Fatalf("chunk = %v, %v; want [1 2 3 4], true", chunk, ok)
	}
	// leftover byte 5 remains buffered for the next mode
	f.SetMode(1)
	chunk, ok = f.Emit()
	if !ok || !bytes.Equal(chunk, []byte{5}) {
		t.Fatalf("leftover chunk = %v, %v; want [5], true", chunk, ok)
	}
}

// TestChunkingInvariance checks invariant 3 from the spec: the sequence of
// frames produced is identical regardless of how the underlying bytes are
// chunked when fed to the framer.
func TestChunkingInvariance(t *testing.T) {
	stream := []byte("aaaa bbbb cccc ")
	// header-like sizes: 4 bytes each, then advance.
	drive := func(feed func(*Framer)) [][]byte {
		f := New()
		f.SetMode(4)
		feed(f)
		var out [][]byte
		for {
			chunk, ok := f.Emit()
			if !ok {
				break
			}
			out = append(out, chunk)
			f.SetMode(4)
		}
		return out
	}

	whole := drive(func(f *Framer) {
		if err := f.Feed(stream); err != nil {
			t.Fatalf("Feed: %v", err)
		}
	})

	byteAtATime := drive(func(f *Framer) {
		for i := range stream {
			if err := f.Feed(stream[i : i+1]); err != nil {
				t.Fatalf("Feed: %v", err)
			}
		}
	})

	if len(whole) != len(byteAtATime) {
		t.Fatalf("chunk count differs: %d vs %d", len(whole), len(byteAtATime))
	}
	for i := range whole {
		if !bytes.Equal(whole[i], byteAtATime[i]) {
			t.Fatalf("chunk %d differs: %q vs %q", i, whole[i], byteAtATime[i])
		}
	}
}

func TestFeedRejectsOverflow(t *testing.T) {
	f := New()
	if err := f.Feed(make([]byte, MaxBuffered)); err != nil {
		t.Fatalf("Feed at cap: %v", err)
	}
	if err := f.Feed([]byte{0}); err == nil {
		t.Fatalf("expected overflow error when exceeding MaxBuffered")
	}
}
