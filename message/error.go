package message

import "errors"

var (
	ErrTooSmall                     = errors.New("too small bytes buffer")
	ErrInvalidTokenLen              = errors.New("invalid token length")
	ErrInvalidValueLength           = errors.New("invalid value length")
	ErrInvalidOptionOrder           = errors.New("options are not ordered by id")
	ErrOptionTruncated              = errors.New("option is truncated")
	ErrOptionUnexpectedExtendMarker = errors.New("option unexpected extend marker")
	ErrOptionNotFound               = errors.New("option not found")
	ErrPayloadMarkerWithoutPayload  = errors.New("payload marker without payload")
)
