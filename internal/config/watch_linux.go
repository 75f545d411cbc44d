package config

import (
	"context"
	"encoding/binary"
	"path/filepath"
	"time"

	"golang.org/x/sys/unix"
)

// Run watches the parent directory of the bot list with inotify until ctx
// is cancelled. Watching the directory catches editors that write a temp
// file and rename it over the original.
func (w *Watcher) Run(ctx context.Context) error {
	absolutePath, err := filepath.Abs(w.path)
	if err != nil {
		return err
	}
	directory := filepath.Dir(absolutePath)
	filename := filepath.Base(absolutePath)

	fd, err := unix.InotifyInit1(unix.IN_NONBLOCK | unix.IN_CLOEXEC)
	if err != nil {
		return err
	}
	defer unix.Close(fd)

	if _, err := unix.InotifyAddWatch(fd, directory, unix.IN_CLOSE_WRITE|unix.IN_MOVED_TO); err != nil {
		return err
	}

	buffer := make([]byte, 4096)
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}

		pollDescriptors := []unix.PollFd{{Fd: int32(fd), Events: unix.POLLIN}}
		count, err := unix.Poll(pollDescriptors, 100)
		if err != nil {
			if err == unix.EINTR {
				continue
			}
			return err
		}
		if count == 0 {
			continue
		}

		bytesRead, err := unix.Read(fd, buffer)
		if err != nil {
			if err == unix.EAGAIN || err == unix.EINTR {
				continue
			}
			return err
		}
		if !inotifyMatchesFile(buffer[:bytesRead], filename) {
			continue
		}

		// Coalesce bursts of writes into one reload.
		select {
		case <-time.After(w.debounce):
		case <-ctx.Done():
			return ctx.Err()
		}
		drainInotify(fd, buffer)

		w.reload(ctx)
	}
}

// inotifyMatchesFile reports whether any event in buffer names filename.
// Each event is a 16-byte header (wd, mask, cookie, len) followed by a
// null-padded name of len bytes.
func inotifyMatchesFile(buffer []byte, filename string) bool {
	offset := 0
	for offset+unix.SizeofInotifyEvent <= len(buffer) {
		nameLength := int(binary.NativeEndian.Uint32(buffer[offset+12 : offset+16]))
		eventSize := unix.SizeofInotifyEvent + nameLength
		if offset+eventSize > len(buffer) {
			break
		}
		if nameLength > 0 {
			name := buffer[offset+unix.SizeofInotifyEvent : offset+eventSize]
			if nullTerminated(name) == filename {
				return true
			}
		}
		offset += eventSize
	}
	return false
}

func nullTerminated(b []byte) string {
	for i, c := range b {
		if c == 0 {
			return string(b[:i])
		}
	}
	return string(b)
}

func drainInotify(fd int, buffer []byte) {
	for {
		if _, err := unix.Read(fd, buffer); err != nil {
			return
		}
	}
}
