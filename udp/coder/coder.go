// Package coder encodes and decodes CoAP messages in the UDP wire format (RFC 7252, section 3).
//
//	 0                   1                   2                   3
//	 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1 2 3 4 5 6 7 8 9 0 1
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|Ver| T |  TKL  |      Code     |          Message ID           |
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|   Token (if any, TKL bytes) ...
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|   Options (if any) ...
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
//	|1 1 1 1 1 1 1 1|    Payload (if any) ...
//	+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+-+
package coder

import (
	"encoding/binary"
	"errors"
	"fmt"

	"github.com/plgd-dev/go-coap-light/message"
	"github.com/plgd-dev/go-coap-light/message/codes"
)

const (
	protocolVersion = 1
	headerLen       = 4
	payloadMarker   = 0xff
)

var DefaultCoder = new(Coder)

type Coder struct{}

// header is the fixed part of a datagram followed by the token.
type header struct {
	typ      message.Type
	tokenLen int
	code     codes.Code
	mid      uint16
}

func (h header) put(buf []byte) {
	buf[0] = protocolVersion<<6 | byte(h.typ)<<4 | byte(h.tokenLen)
	buf[1] = byte(h.code)
	binary.BigEndian.PutUint16(buf[2:headerLen], h.mid)
}

func readHeader(data []byte) (header, error) {
	if len(data) < headerLen {
		return header{}, ErrMessageTruncated
	}
	if data[0]>>6 != protocolVersion {
		return header{}, ErrMessageInvalidVersion
	}
	h := header{
		typ:      message.Type(data[0]>>4&0x3),
		tokenLen: int(data[0] & 0xf),
		code:     codes.Code(data[1]),
		mid:      binary.BigEndian.Uint16(data[2:headerLen]),
	}
	if h.tokenLen > message.MaxTokenSize {
		return header{}, message.ErrInvalidTokenLen
	}
	return h, nil
}

// Size returns the number of bytes Encode needs for m.
func (c *Coder) Size(m message.Message) (int, error) {
	if len(m.Token) > message.MaxTokenSize {
		return -1, message.ErrInvalidTokenLen
	}
	optionsLen, err := m.Options.Marshal(nil)
	if err != nil && !errors.Is(err, message.ErrTooSmall) {
		return -1, err
	}
	size := headerLen + len(m.Token) + optionsLen
	if len(m.Payload) > 0 {
		size += 1 + len(m.Payload)
	}
	return size, nil
}

// Encode writes m into buf and returns the encoded length. When buf is too
// small it returns the required size together with message.ErrTooSmall.
func (c *Coder) Encode(m message.Message, buf []byte) (int, error) {
	if !message.ValidateMID(m.MessageID) {
		return -1, fmt.Errorf("invalid MessageID(%v)", m.MessageID)
	}
	if !message.ValidateType(m.Type) {
		return -1, fmt.Errorf("invalid Type(%v)", m.Type)
	}
	size, err := c.Size(m)
	if err != nil {
		return -1, err
	}
	if len(buf) < size {
		return size, message.ErrTooSmall
	}

	header{
		typ:      m.Type,
		tokenLen: len(m.Token),
		code:     m.Code,
		mid:      uint16(m.MessageID),
	}.put(buf)
	offset := headerLen
	offset += copy(buf[offset:], m.Token)

	n, err := m.Options.Marshal(buf[offset:])
	if err != nil {
		return -1, err
	}
	offset += n

	if len(m.Payload) > 0 {
		buf[offset] = payloadMarker
		offset++
		copy(buf[offset:], m.Payload)
	}
	return size, nil
}

// Decode parses data into m. Token, option values and payload alias data.
func (c *Coder) Decode(data []byte, m *message.Message) (int, error) {
	h, err := readHeader(data)
	if err != nil {
		return -1, err
	}
	rest := data[headerLen:]
	if len(rest) < h.tokenLen {
		return -1, ErrMessageTruncated
	}
	var token message.Token
	if h.tokenLen > 0 {
		token = rest[:h.tokenLen]
	}
	rest = rest[h.tokenLen:]

	m.Options = m.Options[:0]
	n, err := m.Options.Unmarshal(rest)
	if err != nil {
		return -1, err
	}
	rest = rest[n:]

	m.Type = h.typ
	m.Code = h.code
	m.MessageID = int32(h.mid)
	m.Token = token
	m.Payload = nil
	if len(rest) > 0 {
		m.Payload = rest
	}
	return len(data), nil
}
