package domain

import "errors"

var (
	// ErrSource is returned when the media cannot be opened or is unsupported
	ErrSource = errors.New("media source unavailable")
	// ErrDecode marks a single corrupt frame; the caller skips it
	ErrDecode = errors.New("frame decode failed")
	// ErrBufferClosed is returned by Enqueue after Close
	ErrBufferClosed = errors.New("frame buffer closed")
	// ErrNumericFault marks a degenerate filter input
	ErrNumericFault = errors.New("degenerate filter input")
	// ErrResourceExhausted is returned when an enhancement target exceeds the pixel budget
	ErrResourceExhausted = errors.New("enhancement exceeds resource budget")
	// ErrTerminalTooSmall is fatal at startup
	ErrTerminalTooSmall = errors.New("terminal too small")
	// ErrNotTerminal is returned when stdout is not a TTY
	ErrNotTerminal = errors.New("stdout is not a terminal")
)
