package exception

import "errors"

var (
	ErrBusClosed             = errors.New("bus: closed")
	ErrBusQueueFull          = errors.New("bus: subscriber queue full")
	ErrBusUnknownMessageType = errors.New("bus: unknown message type")
	ErrBusUnknownPayload     = errors.New("bus: unknown payload type")
	ErrBusNilHandler         = errors.New("bus: nil handler")
	ErrBusReplyTimeout       = errors.New("bus: reply timeout")
	ErrBusEmptySource        = errors.New("bus: empty source")
)
