//go:build !giouring

package hal

import (
	"time"

	"golang.org/x/sys/unix"
)

// demuxLoop is the portable fallback: a short-sleep poll over a
// non-blocking read. Build with -tags giouring for a ring-based poller
// that blocks in the kernel instead of spinning.
func (u *UART) demuxLoop(stop chan struct{}) {
	var one [1]byte
	var current byte
	haveType := false

	for {
		select {
		case <-stop:
			return
		default:
		}

		n, err := unix.Read(u.fd, one[:])
		if err != nil || n == 0 {
			if err != nil && err != unix.EAGAIN && err != unix.EWOULDBLOCK {
				if u.logger != nil {
					u.logger.Warn("uart read error", "err", err)
				}
				return
			}
			time.Sleep(500 * time.Microsecond)
			continue
		}

		if !haveType {
			current = one[0]
			haveType = true
			continue
		}
		if t, ok := typeFromH4(current); ok {
			u.deliver(t, one[0])
		} else if u.logger != nil {
			u.logger.Warn("unrecognized H4 type indicator", "byte", current)
		}
		haveType = false
	}
}
