//go:build !linux

package playback

func raiseThreadPriority() error { return nil }
