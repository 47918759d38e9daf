package message

import (
	"bytes"
	"crypto/rand"
	"encoding/hex"
)

// TokenSize is the length of tokens generated by GetToken.
const TokenSize = 8

type Token []byte

func (t Token) String() string {
	return hex.EncodeToString(t)
}

// Equal reports whether both tokens carry the same bytes.
func (t Token) Equal(o Token) bool {
	return bytes.Equal(t, o)
}

// GetToken generates a random token of TokenSize bytes.
func GetToken() (Token, error) {
	b := make(Token, TokenSize)
	_, err := rand.Read(b)
	// Note that err == nil only if we read len(b) bytes.
	if err != nil {
		return nil, err
	}
	return b, nil
}
