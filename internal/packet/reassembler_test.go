package packet

import (
	"bytes"
	"testing"
)

// byteFeeder hands out one buffered byte at a time, matching the HAL's
// read_data(block=false) contract: zero bytes once the source is dry.
type byteFeeder struct {
	data []byte
	pos  int
}

func (f *byteFeeder) read(dst []byte) int {
	n := copy(dst, f.data[f.pos:])
	f.pos += n
	return n
}

func pooledAlloc(size int) []byte { return make([]byte, size) }

func TestReassembler_ACLByteByByte(t *testing.T) {
	// [02 01 00 05 00 AA BB CC DD EE] — ACL, handle bytes 01 00, body
	// length 5 (LE), payload AA BB CC DD EE.
	stream := []byte{0x01, 0x00, 0x05, 0x00, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE}
	r := NewReassembler(pooledAlloc, nil, nil, nil)

	var pkt *Packet
	for i := range stream {
		f := &byteFeeder{data: stream[i : i+1]}
		pkt = r.OnDataReady(ACL, f.read)
		if i < len(stream)-1 && pkt != nil {
			t.Fatalf("packet finished early at byte %d", i)
		}
	}
	if pkt == nil {
		t.Fatal("expected a finished packet after the last byte")
	}
	want := append([]byte{0x01, 0x00, 0x05, 0x00}, []byte{0xAA, 0xBB, 0xCC, 0xDD, 0xEE}...)
	if !bytes.Equal(pkt.Data(), want) {
		t.Fatalf("got %x, want %x", pkt.Data(), want)
	}
	if pkt.Event.Type() != ACL {
		t.Fatalf("event tag type = %v, want ACL", pkt.Event.Type())
	}
}

func TestReassembler_ACLWholeStreamOneCall(t *testing.T) {
	stream := []byte{0x01, 0x00, 0x05, 0x00, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE}
	r := NewReassembler(pooledAlloc, nil, nil, nil)
	f := &byteFeeder{data: stream}
	pkt := r.OnDataReady(ACL, f.read)
	if pkt == nil {
		t.Fatal("expected a packet")
	}
	if !bytes.Equal(pkt.Data(), stream) {
		t.Fatalf("got %x, want %x", pkt.Data(), stream)
	}
}

func TestReassembler_AllocFailureMidPreambleEntersIgnoreAndDrains(t *testing.T) {
	failingAlloc := func(size int) []byte { return nil }
	var failedType Type
	var failedBodyLen int
	failCount := 0
	r := NewReassembler(failingAlloc, nil, nil, func(t Type, bodyLen int) {
		failCount++
		failedType = t
		failedBodyLen = bodyLen
	})

	// EVENT preamble [code=0x3E][len=3], then 3 body bytes to drain.
	stream := []byte{0x3E, 0x03, 0x11, 0x22, 0x33}
	f := &byteFeeder{data: stream}

	pkt := r.OnDataReady(Event, f.read)
	if pkt != nil {
		t.Fatalf("expected no upward packet on allocation failure, got %v", pkt)
	}

	ctx := r.contexts[Event]
	if ctx.st != stateBrandNew {
		t.Fatalf("context should have returned to BRAND_NEW after draining, got state %v", ctx.st)
	}
	if failCount != 1 {
		t.Fatalf("expected onAllocFail called once, got %d", failCount)
	}
	if failedType != Event || failedBodyLen != 3 {
		t.Fatalf("onAllocFail got type=%v bodyLen=%d, want Event/3", failedType, failedBodyLen)
	}
}

func TestReassembler_AllocFailureZeroBodyReturnsToBrandNewImmediately(t *testing.T) {
	failingAlloc := func(size int) []byte { return nil }
	r := NewReassembler(failingAlloc, nil, nil, nil)

	stream := []byte{0x05, 0x00} // EVENT code 0x05, paramLen 0
	f := &byteFeeder{data: stream}
	pkt := r.OnDataReady(Event, f.read)
	if pkt != nil {
		t.Fatalf("expected nil packet, got %v", pkt)
	}
	if r.contexts[Event].st != stateBrandNew {
		t.Fatalf("expected BRAND_NEW, got %v", r.contexts[Event].st)
	}
}

func TestReassembler_NoBytesReturnsNilWithoutProgress(t *testing.T) {
	r := NewReassembler(pooledAlloc, nil, nil, nil)
	empty := func(dst []byte) int { return 0 }
	if pkt := r.OnDataReady(ACL, empty); pkt != nil {
		t.Fatalf("expected nil on empty read, got %v", pkt)
	}
	if r.contexts[ACL].st != stateBrandNew {
		t.Fatalf("context should be untouched, got %v", r.contexts[ACL].st)
	}
}

func TestReassembler_ReentrantAcrossCalls(t *testing.T) {
	stream := []byte{0x01, 0x00, 0x05, 0x00, 0xAA, 0xBB, 0xCC, 0xDD, 0xEE}
	r := NewReassembler(pooledAlloc, nil, nil, nil)

	// First call only delivers the first 3 bytes (partial preamble).
	first := &byteFeeder{data: stream[:3]}
	if pkt := r.OnDataReady(ACL, first.read); pkt != nil {
		t.Fatalf("did not expect a packet yet, got %v", pkt)
	}

	// Second call resumes with the remainder.
	second := &byteFeeder{data: stream[3:]}
	pkt := r.OnDataReady(ACL, second.read)
	if pkt == nil {
		t.Fatal("expected the packet to finish on the second call")
	}
	if !bytes.Equal(pkt.Data(), stream) {
		t.Fatalf("got %x, want %x", pkt.Data(), stream)
	}
}

func TestPreambleAndBodyLengthRules(t *testing.T) {
	if got := PreambleSize(Command); got != 3 {
		t.Errorf("Command preamble = %d, want 3", got)
	}
	if got := PreambleSize(ACL); got != 4 {
		t.Errorf("ACL preamble = %d, want 4", got)
	}
	if got := PreambleSize(SCO); got != 3 {
		t.Errorf("SCO preamble = %d, want 3", got)
	}
	if got := PreambleSize(Event); got != 2 {
		t.Errorf("Event preamble = %d, want 2", got)
	}

	if got := BodyLength(Command, []byte{0x03, 0x0C, 0x00}); got != 0 {
		t.Errorf("Command body = %d, want 0", got)
	}
	if got := BodyLength(ACL, []byte{0x01, 0x00, 0x05, 0x00}); got != 5 {
		t.Errorf("ACL body = %d, want 5", got)
	}
	if got := BodyLength(Event, []byte{0x0E, 0x04}); got != 4 {
		t.Errorf("Event body = %d, want 4", got)
	}
}
