// Package btsnoop writes HCI traffic to a btsnoop capture file for
// offline diagnosis, the format recognized by Wireshark's "btsnoop"
// dissector.
//
// No library in the example corpus implements this container format;
// it is a straightforward fixed-size-record binary format, so this
// package is built directly on encoding/binary, bufio and os rather
// than reaching for a third-party dependency.
package btsnoop

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"os"
	"sync"
	"time"

	"github.com/hcigo/hci/internal/packet"
)

const (
	fileMagic       = "btsnoop\x00"
	versionNumber   = 1
	datalinkHCIUART = 1002 // DLT_BLUETOOTH_HCI_H4, per the btsnoop format spec

	// btsnoop timestamps are microseconds since 0000-01-01, offset
	// from the Unix epoch by this many microseconds.
	btsnoopEpochOffsetUs = 0x00E03AB44A676000
)

type recordFlags uint32

const (
	flagSent     recordFlags = 0x00000000
	flagReceived recordFlags = 0x00000001
	flagData     recordFlags = 0x00000000
	flagCommand  recordFlags = 0x00000002
)

// Logger writes packets to a btsnoop capture file. It is safe for
// concurrent use: the event-loop thread logs packets while Close may
// be called from another goroutine (logging toggles and shutdown).
type Logger struct {
	mu     sync.Mutex
	file   *os.File
	w      *bufio.Writer
	closed bool
}

// Open truncates and creates path, writing the btsnoop file header.
func Open(path string) (*Logger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, fmt.Errorf("btsnoop: open %s: %w", path, err)
	}
	l := &Logger{file: f, w: bufio.NewWriter(f)}
	if err := l.writeHeader(); err != nil {
		f.Close()
		return nil, err
	}
	return l, nil
}

func (l *Logger) writeHeader() error {
	if _, err := l.w.WriteString(fileMagic); err != nil {
		return err
	}
	return binary.Write(l.w, binary.BigEndian, [2]uint32{versionNumber, datalinkHCIUART})
}

// Log appends a record for one HCI packet. incoming distinguishes
// controller-to-host traffic from host-to-controller traffic.
func (l *Logger) Log(t packet.Type, data []byte, incoming bool) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return fmt.Errorf("btsnoop: log after close")
	}

	flags := flagData
	if incoming {
		flags |= flagReceived
	} else {
		flags |= flagSent
	}
	if t == packet.Command {
		flags |= flagCommand
	}

	hdr := struct {
		OriginalLen  uint32
		IncludedLen  uint32
		PacketFlags  uint32
		CumulativeDr uint32
		TimestampUs  int64
	}{
		OriginalLen:  uint32(len(data) + 1), // +1 for the H4 type indicator we prepend
		IncludedLen:  uint32(len(data) + 1),
		PacketFlags:  uint32(flags),
		CumulativeDr: 0,
		TimestampUs:  unixMicrosToBtsnoop(time.Now().UnixMicro()),
	}
	if err := binary.Write(l.w, binary.BigEndian, hdr); err != nil {
		return err
	}
	if _, err := l.w.Write([]byte{h4TypeIndicator(t)}); err != nil {
		return err
	}
	_, err := l.w.Write(data)
	return err
}

// Close flushes buffered records and closes the underlying file.
func (l *Logger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return nil
	}
	l.closed = true
	if err := l.w.Flush(); err != nil {
		l.file.Close()
		return err
	}
	return l.file.Close()
}

func unixMicrosToBtsnoop(unixMicros int64) int64 {
	return unixMicros + btsnoopEpochOffsetUs
}

func h4TypeIndicator(t packet.Type) byte {
	switch t {
	case packet.Command:
		return 0x01
	case packet.ACL:
		return 0x02
	case packet.SCO:
		return 0x03
	case packet.Event:
		return 0x04
	default:
		return 0x00
	}
}
