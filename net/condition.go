package net

import (
	"errors"
	"io"
	"net"
)

// Condition classifies a failed socket read the way poll(2) revents would.
type Condition int

const (
	// ConditionWaitError is a generic, transient failure while waiting for data.
	ConditionWaitError Condition = iota
	// ConditionError is an error reported by the socket itself, e.g. an ICMP unreachable.
	ConditionError
	// ConditionHangup means the peer side went away; the socket stays usable.
	ConditionHangup
	// ConditionInvalid means the descriptor is no longer open and must be replaced.
	ConditionInvalid
)

func (c Condition) String() string {
	switch c {
	case ConditionWaitError:
		return "wait error"
	case ConditionError:
		return "error condition"
	case ConditionHangup:
		return "hang-up"
	case ConditionInvalid:
		return "invalid descriptor"
	}
	return "unknown condition"
}

func errnoIn(err error, list []error) bool {
	for _, errno := range list {
		if errors.Is(err, errno) {
			return true
		}
	}
	return false
}

// Classify maps a read error of a UDP socket to a Condition.
func Classify(err error) Condition {
	switch {
	case errors.Is(err, net.ErrClosed),
		errors.Is(err, ErrConnectionIsClosed),
		errnoIn(err, invalidErrnos):
		return ConditionInvalid
	case errors.Is(err, io.EOF),
		errnoIn(err, hangupErrnos):
		return ConditionHangup
	case errnoIn(err, errorErrnos):
		return ConditionError
	}
	return ConditionWaitError
}
