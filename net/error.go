package net

type Error string

func (e Error) Error() string { return string(e) }

const (
	ErrConnectionIsClosed = Error("connection is closed")
	ErrWriteInterrupted   = Error("only part data was written to socket")
	ErrInvalidRemoteAddr  = Error("invalid remote address")
	ErrNotIPv6            = Error("socket is not IPv6")
)
