package tcpengine

import "testing"

func TestByteStreamWriteTruncates(t *testing.T) {
	s := NewByteStream(4)
	n := s.Write([]byte("hello"))
	if n != 4 {
		t.Fatalf("Write returned %d, want 4", n)
	}
	if s.Size() != 4 {
		t.Fatalf("Size() = %d, want 4", s.Size())
	}
	if s.RemainingCapacity() != 0 {
		t.Fatalf("RemainingCapacity() = %d, want 0", s.RemainingCapacity())
	}
}

func TestByteStreamReadOverrunSetsError(t *testing.T) {
	s := NewByteStream(16)
	s.Write([]byte("ab"))
	if got := s.Read(5); got != nil {
		t.Fatalf("Read(5) on a 2-byte stream returned %q, want nil", got)
	}
	if !s.Error() {
		t.Fatalf("Error() = false after overrun read")
	}
}

func TestByteStreamEOF(t *testing.T) {
	s := NewByteStream(16)
	s.Write([]byte("ab"))
	if s.EOF() {
		t.Fatalf("EOF() true before EndInput")
	}
	s.EndInput()
	if s.EOF() {
		t.Fatalf("EOF() true while bytes remain buffered")
	}
	s.PopOutput(2)
	if !s.EOF() {
		t.Fatalf("EOF() false once drained and ended")
	}
}

func TestByteStreamPeekDoesNotConsume(t *testing.T) {
	s := NewByteStream(16)
	s.Write([]byte("abcdef"))
	peeked := s.PeekOutput(3)
	if string(peeked) != "abc" {
		t.Fatalf("PeekOutput = %q, want abc", peeked)
	}
	if s.Size() != 6 {
		t.Fatalf("PeekOutput consumed bytes: Size() = %d, want 6", s.Size())
	}
}
