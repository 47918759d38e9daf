package message

import (
	"encoding/binary"
	"strconv"
)

type OptionID uint16

/*
   +-----+----+---+---+---+----------------+--------+--------+---------+
   | No. | C  | U | N | R | Name           | Format | Length | Default |
   +-----+----+---+---+---+----------------+--------+--------+---------+
   |   3 | x  | x | - |   | Uri-Host       | string | 1-255  | (see    |
   |   7 | x  | x | - |   | Uri-Port       | uint   | 0-2    | (see    |
   |  11 | x  | x | - | x | Uri-Path       | string | 0-255  | (none)  |
   |  12 |    |   |   |   | Content-Format | uint   | 0-2    | (none)  |
   |  15 | x  | x | - | x | Uri-Query      | string | 0-255  | (none)  |
   +-----+----+---+---+---+----------------+--------+--------+---------+
*/

const (
	URIHost       OptionID = 3
	URIPort       OptionID = 7
	URIPath       OptionID = 11
	ContentFormat OptionID = 12
	URIQuery      OptionID = 15
)

var optionIDToString = map[OptionID]string{
	URIHost:       "URIHost",
	URIPort:       "URIPort",
	URIPath:       "URIPath",
	ContentFormat: "ContentFormat",
	URIQuery:      "URIQuery",
}

func (o OptionID) String() string {
	if str, ok := optionIDToString[o]; ok {
		return str
	}
	return "Option(" + strconv.FormatInt(int64(o), 10) + ")"
}

const (
	maxPathValue = 255

	ExtendOptionByteCode   = 13
	ExtendOptionByteAddend = 13
	ExtendOptionWordCode   = 14
	ExtendOptionWordAddend = 269
	ExtendOptionError      = 15

	maxOptionValue = 0xffff + ExtendOptionWordAddend
)

type Option struct {
	ID    OptionID
	Value []byte
}

func extendOpt(v int) (code int, ext int) {
	switch {
	case v < ExtendOptionByteAddend:
		return v, 0
	case v < ExtendOptionWordAddend:
		return ExtendOptionByteCode, v - ExtendOptionByteAddend
	}
	return ExtendOptionWordCode, v - ExtendOptionWordAddend
}

func extendOptSize(code int) int {
	switch code {
	case ExtendOptionByteCode:
		return 1
	case ExtendOptionWordCode:
		return 2
	}
	return 0
}

func marshalExtendOpt(buf []byte, code, ext int) int {
	switch code {
	case ExtendOptionByteCode:
		buf[0] = byte(ext)
		return 1
	case ExtendOptionWordCode:
		binary.BigEndian.PutUint16(buf, uint16(ext))
		return 2
	}
	return 0
}

// Size returns the encoded length of the option following previousID.
func (o Option) Size(previousID OptionID) (int, error) {
	if o.ID < previousID {
		return -1, ErrInvalidOptionOrder
	}
	if len(o.Value) > maxOptionValue {
		return -1, ErrInvalidValueLength
	}
	delta, _ := extendOpt(int(o.ID - previousID))
	length, _ := extendOpt(len(o.Value))
	return 1 + extendOptSize(delta) + extendOptSize(length) + len(o.Value), nil
}

/*
	  0   1   2   3   4   5   6   7
	+---------------+---------------+
	|  Option Delta | Option Length |   1 byte
	+---------------+---------------+
	/         Option Delta          /   0-2 bytes
	\          (extended)           \
	+-------------------------------+
	/         Option Length         /   0-2 bytes
	\          (extended)           \
	+-------------------------------+
	/         Option Value          /   0 or more bytes
	+-------------------------------+
*/

// Marshal encodes the option after previousID into buf.
func (o Option) Marshal(buf []byte, previousID OptionID) (int, error) {
	size, err := o.Size(previousID)
	if err != nil {
		return -1, err
	}
	if len(buf) < size {
		return size, ErrTooSmall
	}
	delta, deltaExt := extendOpt(int(o.ID - previousID))
	length, lengthExt := extendOpt(len(o.Value))
	buf[0] = byte(delta<<4) | byte(length)
	n := 1
	n += marshalExtendOpt(buf[n:], delta, deltaExt)
	n += marshalExtendOpt(buf[n:], length, lengthExt)
	copy(buf[n:], o.Value)
	return size, nil
}

func parseExtOpt(data []byte, opt int) (int, int, error) {
	processed := 0
	switch opt {
	case ExtendOptionByteCode:
		if len(data) < 1 {
			return -1, -1, ErrOptionTruncated
		}
		opt = int(data[0]) + ExtendOptionByteAddend
		processed = 1
	case ExtendOptionWordCode:
		if len(data) < 2 {
			return -1, -1, ErrOptionTruncated
		}
		opt = int(binary.BigEndian.Uint16(data[:2])) + ExtendOptionWordAddend
		processed = 2
	}
	return processed, opt, nil
}
