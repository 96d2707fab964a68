package main

import (
	"errors"
	"fmt"
	"path/filepath"
	"strconv"
	"strings"
)

// Process exit codes
const (
	exitOK          = 0
	exitFatalInit   = 1
	exitRenderError = 2
)

// exitError carries the process exit code for a failed command
type exitError struct {
	code int
	err  error
}

func (e *exitError) Error() string { return e.err.Error() }
func (e *exitError) Unwrap() error { return e.err }

func fatalInit(err error) error {
	return &exitError{code: exitFatalInit, err: err}
}

func renderFailure(err error) error {
	return &exitError{code: exitRenderError, err: err}
}

// exitCode maps a command error to the process exit code. Errors raised by
// argument parsing count as init failures.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	var ee *exitError
	if errors.As(err, &ee) {
		return ee.code
	}
	return exitFatalInit
}

// parseSize reads a WxH argument such as 1280x720
func parseSize(s string) (int, int, error) {
	ws, hs, ok := strings.Cut(strings.ToLower(s), "x")
	if !ok {
		return 0, 0, fmt.Errorf("invalid size %q: want WxH", s)
	}
	w, err := strconv.Atoi(ws)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid width in %q: %w", s, err)
	}
	h, err := strconv.Atoi(hs)
	if err != nil {
		return 0, 0, fmt.Errorf("invalid height in %q: %w", s, err)
	}
	if w < 2 || h < 2 {
		return 0, 0, fmt.Errorf("invalid size %q: both sides must be at least 2", s)
	}
	return w, h, nil
}

// defaultOutput places the render next to the project with an .mp4 extension
func defaultOutput(projectPath string) string {
	return strings.TrimSuffix(projectPath, filepath.Ext(projectPath)) + ".mp4"
}
