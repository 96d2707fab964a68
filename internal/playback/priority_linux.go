//go:build linux

package playback

import "golang.org/x/sys/unix"

// audioNice is the niceness requested for the audio thread
const audioNice = -10

// raiseThreadPriority lowers the niceness of the calling OS thread. The caller
// must have locked the goroutine to its thread.
func raiseThreadPriority() error {
	return unix.Setpriority(unix.PRIO_PROCESS, unix.Gettid(), audioNice)
}
