package mt

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// ParseHex decodes a hex string. Whitespace, ':' and '-' separators and a
// leading 0x are accepted, so "FE 00 21 01 20" and "fe:00:21:01:20" both work.
func ParseHex(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	s = strings.TrimPrefix(strings.TrimPrefix(s, "0x"), "0X")
	s = strings.Map(func(r rune) rune {
		switch r {
		case ' ', '\t', '\n', '\r', ':', '-':
			return -1
		}
		return r
	}, s)
	b, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("parse hex: %w", err)
	}
	return b, nil
}
