package av

import (
	"errors"
	"fmt"
)

// Sentinel errors for av package operations.
// These errors enable reliable error classification using errors.Is().

// Playback errors.
var (
	// ErrAlreadyPlaying is returned by Start when playback is running.
	ErrAlreadyPlaying = errors.New("playback already running")

	// ErrNotPlaying indicates playback has not been started.
	ErrNotPlaying = errors.New("playback not running")

	// ErrUnsupportedCodec indicates no decoder or encoder exists for a codec.
	ErrUnsupportedCodec = errors.New("unsupported codec")
)

// Capture errors.
var (
	// ErrAlreadyCapturing is returned when the capture source is running.
	ErrAlreadyCapturing = errors.New("capture already running")

	// ErrNoEncoder indicates no codec has been selected.
	ErrNoEncoder = errors.New("no encoder configured")

	// ErrInjecting is returned when an injection is already in progress.
	ErrInjecting = errors.New("audio injection in progress")

	// ErrInvalidFramesPerPacket indicates an unsupported packing value.
	ErrInvalidFramesPerPacket = errors.New("invalid frames per packet")
)

// ErrorKind classifies pipeline failures by how they must be handled.
type ErrorKind int

const (
	// KindTransientSpeaker affects one speaker only; the speaker's data is
	// dropped and everything else continues.
	KindTransientSpeaker ErrorKind = iota + 1
	// KindResourceInit means a device or codec could not be opened; the
	// pipeline does not start.
	KindResourceInit
	// KindEncode aborts the current capture or injection.
	KindEncode
	// KindInterrupted marks a blocking wait cut short by shutdown.
	KindInterrupted
)

// String returns a human-readable error kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTransientSpeaker:
		return "transient-speaker"
	case KindResourceInit:
		return "resource-init"
	case KindEncode:
		return "encode"
	case KindInterrupted:
		return "interrupted"
	default:
		return "unknown"
	}
}

// Error is a classified pipeline error.
type Error struct {
	Kind    ErrorKind
	Op      string
	Session uint32 // set for KindTransientSpeaker
	Err     error
}

func (e *Error) Error() string {
	if e.Kind == KindTransientSpeaker {
		return fmt.Sprintf("%s (session %d): %v", e.Op, e.Session, e.Err)
	}
	return fmt.Sprintf("%s: %v", e.Op, e.Err)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// KindOf returns the kind of the first *Error in err's chain, or 0.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return 0
}

func newError(kind ErrorKind, op string, err error) *Error {
	return &Error{Kind: kind, Op: op, Err: err}
}
