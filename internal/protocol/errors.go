package protocol

import "errors"

// Protocol-layer errors. Connection-scoped: any one of these closes the
// connection that produced it without affecting the scheduler or any other
// agent (spec.md §7).
var (
	ErrMalformedFrame    = errors.New("protocol: malformed frame")
	ErrUnknownNamespace  = errors.New("protocol: unknown namespace")
	ErrUnknownCommand    = errors.New("protocol: unknown command")
	ErrFrameTooLarge     = errors.New("protocol: frame exceeds size limit")
	ErrStreamClosed      = errors.New("protocol: stream closed")
	ErrHandshakeFailed   = errors.New("protocol: handshake failed")
	ErrUnexpectedMessage = errors.New("protocol: unexpected message")
	ErrReplyTimeout      = errors.New("protocol: reply wait timed out")
	ErrAlreadyConnected  = errors.New("protocol: agent already connected")
)

// MaxFrameSize bounds a single decoded frame. Frames larger than this are a
// protocol violation rather than silently truncated.
const MaxFrameSize = 64 * 1024
