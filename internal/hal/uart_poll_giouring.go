//go:build giouring

package hal

import (
	"golang.org/x/sys/unix"

	"github.com/pawelgaczynski/giouring"
)

// demuxLoop under the giouring build tag parks in io_uring's
// SubmitAndWait instead of spin-sleeping on EAGAIN.
func (u *UART) demuxLoop(stop chan struct{}) {
	ring, err := giouring.CreateRing(8)
	if err != nil {
		if u.logger != nil {
			u.logger.Warn("giouring ring unavailable, falling back to busy poll", "err", err)
		}
		u.busyDemuxLoop(stop)
		return
	}
	defer ring.QueueExit()

	var one [1]byte
	var current byte
	haveType := false

	for {
		select {
		case <-stop:
			return
		default:
		}

		sqe := ring.GetSQE()
		if sqe == nil {
			continue
		}
		sqe.PrepareRead(int32(u.fd), one[:], 0)

		if _, err := ring.SubmitAndWait(1); err != nil {
			if u.logger != nil {
				u.logger.Warn("giouring submit failed", "err", err)
			}
			continue
		}

		cqe, err := ring.PeekCQE()
		if err != nil {
			continue
		}
		n := cqe.Res
		ring.SeenCQE(cqe)
		if n <= 0 {
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

// busyDemuxLoop is the same non-blocking-read fallback the default
// build uses, kept here so the giouring build degrades gracefully
// rather than failing outright when ring setup is refused (e.g. under
// a seccomp profile that blocks io_uring_setup).
func (u *UART) busyDemuxLoop(stop chan struct{}) {
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
				return
			}
			continue
		}
		if !haveType {
			current = one[0]
			haveType = true
			continue
		}
		if t, ok := typeFromH4(current); ok {
			u.deliver(t, one[0])
		}
		haveType = false
	}
}
