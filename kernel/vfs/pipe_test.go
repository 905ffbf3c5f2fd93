package vfs

import "testing"

func TestPipeWriteThenRead(t *testing.T) {
	p := NewPipe(1)
	n, err := p.WriteAt(0, []byte("hello"))
	if err != nil || n != 5 {
		t.Fatalf("expected (5, nil), got (%d, %v)", n, err)
	}
	buf := make([]byte, 5)
	n, err = p.ReadAt(0, buf)
	if err != nil || n != 5 || string(buf) != "hello" {
		t.Fatalf("expected to read back 'hello', got %q/%v", buf[:n], err)
	}
}

func TestPipeReadAfterWriterClosedReturnsEOF(t *testing.T) {
	p := NewPipe(2)
	p.CloseWriteEnd()
	buf := make([]byte, 8)
	n, err := p.ReadAt(0, buf)
	if err != nil || n != 0 {
		t.Fatalf("expected (0, nil) EOF, got (%d, %v)", n, err)
	}
}

func TestPipeWriteAfterReaderClosedFails(t *testing.T) {
	p := NewPipe(3)
	p.CloseReadEnd()
	_, err := p.WriteAt(0, []byte("x"))
	if err == nil || err.Errno != ErrnoBrokenPipe {
		t.Fatalf("expected a broken-pipe error, got %v", err)
	}
}

func TestPipePollMaskReflectsBufferState(t *testing.T) {
	p := NewPipe(4)
	if mask := p.PollMask(); mask&PollReadable != 0 {
		t.Fatalf("expected an empty pipe to not be readable, got %v", mask)
	}
	p.WriteAt(0, []byte("x"))
	if mask := p.PollMask(); mask&PollReadable == 0 {
		t.Fatalf("expected a non-empty pipe to be readable, got %v", mask)
	}
}
