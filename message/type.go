package message

import "strconv"

// Type is the 2-bit message type of a CoAP UDP header.
type Type int16

const (
	Unset           Type = -1
	Confirmable     Type = 0
	NonConfirmable  Type = 1
	Acknowledgement Type = 2
	Reset           Type = 3
)

func (t Type) String() string {
	switch t {
	case Unset:
		return "Unset"
	case Confirmable:
		return "Confirmable"
	case NonConfirmable:
		return "NonConfirmable"
	case Acknowledgement:
		return "Acknowledgement"
	case Reset:
		return "Reset"
	}
	return "Type(" + strconv.FormatInt(int64(t), 10) + ")"
}

// ValidateType validates the type for UDP. (0 <= typ <= 3)
func ValidateType(typ Type) bool {
	return typ >= Confirmable && typ <= Reset
}
