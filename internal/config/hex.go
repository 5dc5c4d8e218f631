package config

import (
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// parseHex16 parses a "0x1234" or "1234" style address into a uint16,
// the way every logical/physical address field in this config is
// written.
func parseHex16(s string) (uint16, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 16)
	if err != nil {
		return 0, fmt.Errorf("not a hex address: %q: %w", s, err)
	}
	return uint16(v), nil
}

// parseHex32 parses a CAN arbitration ID, up to 29 bits.
func parseHex32(s string) (uint32, error) {
	v, err := strconv.ParseUint(strings.TrimPrefix(strings.ToLower(s), "0x"), 16, 32)
	if err != nil {
		return 0, fmt.Errorf("not a hex arbitration id: %q: %w", s, err)
	}
	return uint32(v), nil
}

// parseHexBytes parses a colon- or hyphen-separated MAC-style hex
// string ("DE:AD:BE:EF:00:01") into exactly n bytes.
func parseHexBytes(s string, n int) ([]byte, error) {
	if s == "" {
		return nil, fmt.Errorf("empty")
	}
	clean := strings.NewReplacer(":", "", "-", "", " ", "").Replace(s)
	b, err := hex.DecodeString(clean)
	if err != nil {
		return nil, fmt.Errorf("not hex bytes: %q: %w", s, err)
	}
	if len(b) != n {
		return nil, fmt.Errorf("expected %d bytes, got %d: %q", n, len(b), s)
	}
	return b, nil
}
