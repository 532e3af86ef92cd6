//go:build unix

package newsrc

import (
	"errors"
	"os"
	"time"

	"golang.org/x/sys/unix"

	"github.com/mmcdole/nntpsync/internal/domain"
)

const lockRetryInterval = 50 * time.Millisecond

// lockFile takes a flock(2) lock on f. With a positive timeout the lock is
// polled and ErrLockContention returned once the deadline passes.
func lockFile(f *os.File, exclusive bool, timeout time.Duration) error {
	how := unix.LOCK_SH
	if exclusive {
		how = unix.LOCK_EX
	}
	fd := int(f.Fd())

	if timeout <= 0 {
		for {
			err := unix.Flock(fd, how)
			if !errors.Is(err, unix.EINTR) {
				return err
			}
		}
	}

	deadline := time.Now().Add(timeout)
	for {
		err := unix.Flock(fd, how|unix.LOCK_NB)
		switch {
		case err == nil:
			return nil
		case errors.Is(err, unix.EWOULDBLOCK), errors.Is(err, unix.EINTR):
		default:
			return err
		}
		if time.Now().After(deadline) {
			return domain.ErrLockContention
		}
		time.Sleep(lockRetryInterval)
	}
}

func unlockFile(f *os.File) {
	unix.Flock(int(f.Fd()), unix.LOCK_UN)
}
