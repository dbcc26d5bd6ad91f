package types

import (
	"encoding/hex"
	"fmt"
	"strings"
)

// HexBytes is a byte slice that renders as lowercase hex. Used for CLI
// and JSON output of binary fields (moduli, hashes, serials).
type HexBytes []byte

func (hb HexBytes) String() string {
	return hex.EncodeToString(hb)
}

func (hb HexBytes) MarshalJSON() ([]byte, error) {
	s := "0x" + hex.EncodeToString(hb)
	jbz := make([]byte, len(s)+2)
	jbz[0] = '"'
	copy(jbz[1:], s)
	jbz[len(jbz)-1] = '"'
	return jbz, nil
}

func (hb *HexBytes) UnmarshalJSON(data []byte) error {
	if len(data) < 2 || data[0] != '"' || data[len(data)-1] != '"' {
		return fmt.Errorf("invalid hex string: %s", data)
	}
	str := strings.TrimPrefix(string(data[1:len(data)-1]), "0x")
	bz, err := hex.DecodeString(str)
	if err != nil {
		return err
	}
	*hb = bz
	return nil
}

// HexToBytes decodes a hex string with an optional 0x prefix.
func HexToBytes(hexStr string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(hexStr, "0x"))
}

// parseColonHex decodes a registry field of colon-separated hex bytes
// ("a0:00:00:00:03"). The byte count must fall within [min, max].
func parseColonHex(tok string, min, max int) ([]byte, error) {
	parts := strings.Split(tok, ":")
	if len(parts) < min || len(parts) > max {
		return nil, fmt.Errorf("field %q: want %d..%d bytes, got %d", tok, min, max, len(parts))
	}
	out := make([]byte, len(parts))
	for i, p := range parts {
		if len(p) != 2 {
			return nil, fmt.Errorf("field %q: byte %d is not two hex digits", tok, i)
		}
		b, err := hex.DecodeString(p)
		if err != nil {
			return nil, fmt.Errorf("field %q: %w", tok, err)
		}
		out[i] = b[0]
	}
	return out, nil
}

// formatColonHex is the inverse of parseColonHex.
func formatColonHex(buf []byte) string {
	parts := make([]string, len(buf))
	for i, b := range buf {
		parts[i] = fmt.Sprintf("%02x", b)
	}
	return strings.Join(parts, ":")
}
