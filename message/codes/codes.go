package codes

import (
	"fmt"
	"strings"
)

// A Code is an unsigned 8-bit number composed of a 3-bit class and a 5-bit detail.
type Code uint8

// Request Codes
const (
	Empty  Code = 0
	GET    Code = 1
	POST   Code = 2
	PUT    Code = 3
	DELETE Code = 4
)

// Response Codes
const (
	Created               Code = 65
	Deleted               Code = 66
	Valid                 Code = 67
	Changed               Code = 68
	Content               Code = 69
	BadRequest            Code = 128
	Unauthorized          Code = 129
	BadOption             Code = 130
	Forbidden             Code = 131
	NotFound              Code = 132
	MethodNotAllowed      Code = 133
	NotAcceptable         Code = 134
	PreconditionFailed    Code = 140
	RequestEntityTooLarge Code = 141
	UnsupportedMediaType  Code = 143
	InternalServerError   Code = 160
	NotImplemented        Code = 161
	BadGateway            Code = 162
	ServiceUnavailable    Code = 163
	GatewayTimeout        Code = 164
	ProxyingNotSupported  Code = 165
)

// Class returns the 3-bit class of the code.
func (c Code) Class() uint8 {
	return uint8(c) >> 5
}

// IsRequest reports whether the code is a request method.
func (c Code) IsRequest() bool {
	return c != Empty && c.Class() == 0
}

// IsResponse reports whether the code belongs to a response class (2.xx - 5.xx).
func (c Code) IsResponse() bool {
	cl := c.Class()
	return cl >= 2 && cl <= 5
}

var strToCode = map[string]Code{
	"GET":    GET,
	"POST":   POST,
	"PUT":    PUT,
	"DELETE": DELETE,
}

// ToMethod converts a method name (case insensitive) to its request code.
func ToMethod(s string) (Code, error) {
	if c, ok := strToCode[strings.ToUpper(s)]; ok {
		return c, nil
	}
	return Empty, fmt.Errorf("invalid method %q", s)
}
