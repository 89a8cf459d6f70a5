package protocol

import "errors"

var (
	ErrNoStructForCommand = errors.New("protocol: no struct registered for command")
	ErrUnknownStruct      = errors.New("protocol: proto struct references unknown struct")
	ErrUnknownCommand     = errors.New("protocol: proto struct references unknown command")
	ErrPayloadType        = errors.New("protocol: unsupported payload type")
)
