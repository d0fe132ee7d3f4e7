//go:build darwin

package core

import (
	"syscall"

	"golang.org/x/sys/unix"
)

// acceptConn accepts one connection and makes it non-blocking and
// close-on-exec. darwin has no accept4, so ForkLock keeps a concurrent
// fork from inheriting the descriptor in between.
func acceptConn(lfd int) (int, unix.Sockaddr, error) {
	syscall.ForkLock.RLock()
	nfd, sa, err := unix.Accept(lfd)
	if err == nil {
		unix.CloseOnExec(nfd)
	}
	syscall.ForkLock.RUnlock()
	if err != nil {
		return -1, nil, err
	}

	if err := unix.SetNonblock(nfd, true); err != nil {
		unix.Close(nfd)
		return -1, nil, err
	}
	return nfd, sa, nil
}
