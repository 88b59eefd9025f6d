package hal

import (
	"bytes"
	"sync"

	"golang.org/x/sys/unix"

	"github.com/hcigo/hci/internal/logging"
	"github.com/hcigo/hci/internal/packet"
)

// H4 packet-type indicator bytes. A real UART-attached controller
// multiplexes all four packet types over one byte stream; the leading
// byte of every transmission names the type that follows.
const (
	h4Command = 0x01
	h4ACL     = 0x02
	h4SCO     = 0x03
	h4Event   = 0x04
)

func h4Indicator(t packet.Type) byte {
	switch t {
	case packet.Command:
		return h4Command
	case packet.ACL:
		return h4ACL
	case packet.SCO:
		return h4SCO
	case packet.Event:
		return h4Event
	default:
		return 0
	}
}

func typeFromH4(b byte) (packet.Type, bool) {
	switch b {
	case h4Command:
		return packet.Command, true
	case h4ACL:
		return packet.ACL, true
	case h4SCO:
		return packet.SCO, true
	case h4Event:
		return packet.Event, true
	default:
		return 0, false
	}
}

// UART is a real HAL over a Linux character device in raw termios
// mode. It demultiplexes the H4 byte stream into per-type buffers on a
// background goroutine and notifies the owner's DataReady callback.
type UART struct {
	path   string
	logger *logging.Logger

	fd     int
	cb     Callbacks
	stopCh chan struct{}

	mu      sync.Mutex
	staging map[packet.Type]*bytes.Buffer
}

func NewUART(path string, logger *logging.Logger) *UART {
	return &UART{
		path:   path,
		logger: logger,
		staging: map[packet.Type]*bytes.Buffer{
			packet.ACL:   new(bytes.Buffer),
			packet.SCO:   new(bytes.Buffer),
			packet.Event: new(bytes.Buffer),
		},
	}
}

func (u *UART) Init(cb Callbacks) error {
	u.cb = cb
	return nil
}

func (u *UART) Open() error {
	fd, err := unix.Open(u.path, unix.O_RDWR|unix.O_NOCTTY|unix.O_NONBLOCK, 0)
	if err != nil {
		return err
	}
	if err := setRawMode(fd); err != nil {
		unix.Close(fd)
		return err
	}
	u.fd = fd
	u.stopCh = make(chan struct{})
	go u.demuxLoop(u.stopCh)
	return nil
}

func (u *UART) Close() error {
	if u.stopCh != nil {
		close(u.stopCh)
		u.stopCh = nil
	}
	if u.fd == 0 {
		return nil
	}
	err := unix.Close(u.fd)
	u.fd = 0
	return err
}

func (u *UART) ReadData(t packet.Type, dst []byte, block bool) int {
	u.mu.Lock()
	defer u.mu.Unlock()
	buf, ok := u.staging[t]
	if !ok {
		return 0
	}
	n, _ := buf.Read(dst)
	if n < 0 {
		return 0
	}
	return n
}

func (u *UART) TransmitData(t packet.Type, data []byte) error {
	if _, err := unix.Write(u.fd, []byte{h4Indicator(t)}); err != nil {
		return err
	}
	_, err := unix.Write(u.fd, data)
	return err
}

func (u *UART) PacketFinished(packet.Type) {}

func (u *UART) deliver(t packet.Type, b byte) {
	u.mu.Lock()
	u.staging[t].WriteByte(b)
	u.mu.Unlock()
	if u.cb.DataReady != nil {
		u.cb.DataReady(t)
	}
}

func setRawMode(fd int) error {
	t, err := unix.IoctlGetTermios(fd, unix.TCGETS)
	if err != nil {
		return err
	}
	t.Iflag &^= unix.IGNBRK | unix.BRKINT | unix.PARMRK | unix.ISTRIP | unix.INLCR | unix.IGNCR | unix.ICRNL | unix.IXON
	t.Oflag &^= unix.OPOST
	t.Lflag &^= unix.ECHO | unix.ECHONL | unix.ICANON | unix.ISIG | unix.IEXTEN
	t.Cflag &^= unix.CSIZE | unix.PARENB
	t.Cflag |= unix.CS8
	t.Cc[unix.VMIN] = 0
	t.Cc[unix.VTIME] = 0
	return unix.IoctlSetTermios(fd, unix.TCSETS, t)
}
