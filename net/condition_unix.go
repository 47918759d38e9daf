//go:build unix

package net

import "golang.org/x/sys/unix"

var (
	invalidErrnos = []error{unix.EBADF, unix.ENOTSOCK}
	hangupErrnos  = []error{unix.ECONNRESET, unix.EPIPE, unix.ESHUTDOWN}
	errorErrnos   = []error{unix.ECONNREFUSED, unix.EHOSTUNREACH, unix.ENETUNREACH, unix.EHOSTDOWN, unix.ENETDOWN}
)
