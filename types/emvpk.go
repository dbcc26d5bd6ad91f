package types

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/emvkit/emvpki/crypto"
)

// EmvPK is an EMV RSA public key: either a CA key loaded from the
// registry or a key recovered from a certificate. It is a
// self-contained value; nothing it holds aliases codec buffers.
type EmvPK struct {
	// RID is the 5-byte Registered Application Provider Identifier.
	RID [5]byte
	// Index selects the key under the RID.
	Index byte
	// Serial is the card-assigned certificate serial (non-CA keys).
	Serial [3]byte
	// PAN is left-aligned BCD padded with 0xff (non-CA keys).
	PAN [10]byte
	// Expire holds the packed-decimal expiry YYMMDD, e.g. 0x221231.
	Expire uint32

	HashAlgo byte
	PKAlgo   byte

	// Hash is the SHA-1 of RID ‖ Index ‖ Modulus ‖ Exp, the registry
	// integrity tag.
	Hash [20]byte

	// Exp is the RSA public exponent, at most 3 bytes.
	Exp []byte
	// Modulus is the RSA modulus, big-endian.
	Modulus []byte
}

// NewEmvPK returns a zeroed key skeleton with allocated modulus and
// exponent. Exponents longer than 3 bytes are not supported.
func NewEmvPK(mlen, elen int) (*EmvPK, error) {
	if elen > 3 {
		return nil, fmt.Errorf("emvpk: exponent length %d exceeds 3 bytes", elen)
	}
	if mlen < 0 || elen < 0 {
		return nil, fmt.Errorf("emvpk: negative parameter length")
	}
	return &EmvPK{
		Modulus: make([]byte, mlen),
		Exp:     make([]byte, elen),
	}, nil
}

// ParseCAKey parses one CA-key line of the on-disk registry:
//
//	rid index expire "rsa" exp modulus "sha1" hash
//
// with multi-byte fields as colon-separated hex and the expiry as six
// packed-decimal digits. Any shape deviation fails the parse; lines
// carrying an unrecognized algorithm marker ("??xx") fail too, so
// unsupported entries stay opaque.
func ParseCAKey(line string) (*EmvPK, error) {
	fields := strings.Fields(line)
	if len(fields) != 8 {
		return nil, fmt.Errorf("emvpk: want 8 fields, got %d", len(fields))
	}

	pk := &EmvPK{}

	rid, err := parseColonHex(fields[0], 5, 5)
	if err != nil {
		return nil, err
	}
	copy(pk.RID[:], rid)

	index, err := parseColonHex(fields[1], 1, 1)
	if err != nil {
		return nil, err
	}
	pk.Index = index[0]

	pk.Expire, err = parseExpire(fields[2])
	if err != nil {
		return nil, err
	}

	if fields[3] != "rsa" {
		return nil, fmt.Errorf("emvpk: unsupported pk algorithm %q", fields[3])
	}
	pk.PKAlgo = crypto.PKRSA

	if pk.Exp, err = parseColonHex(fields[4], 1, 3); err != nil {
		return nil, err
	}
	if pk.Modulus, err = parseColonHex(fields[5], 1, 256); err != nil {
		return nil, err
	}

	if fields[6] != "sha1" {
		return nil, fmt.Errorf("emvpk: unsupported hash algorithm %q", fields[6])
	}
	pk.HashAlgo = crypto.HashSHA1

	h, err := parseColonHex(fields[7], 20, 20)
	if err != nil {
		return nil, err
	}
	copy(pk.Hash[:], h)

	return pk, nil
}

func parseExpire(tok string) (uint32, error) {
	if len(tok) != 6 {
		return 0, fmt.Errorf("emvpk: expiry %q is not six digits", tok)
	}
	var bcd [3]byte
	for i := 0; i < 3; i++ {
		hi, lo := tok[2*i], tok[2*i+1]
		if hi < '0' || hi > '9' || lo < '0' || lo > '9' {
			return 0, fmt.Errorf("emvpk: expiry %q is not packed decimal", tok)
		}
		bcd[i] = (hi-'0')<<4 | (lo - '0')
	}
	if bcd[1] > 0x12 || bcd[2] > 0x31 {
		return 0, fmt.Errorf("emvpk: expiry %q out of range", tok)
	}
	return uint32(bcd[0])<<16 | uint32(bcd[1])<<8 | uint32(bcd[2]), nil
}

// RegistryLine renders the key in canonical registry form, the inverse
// of ParseCAKey. Unknown algorithm bytes are emitted as "??" followed
// by two hex digits; such lines do not parse back.
func (pk *EmvPK) RegistryLine() string {
	var sb strings.Builder

	sb.WriteString(formatColonHex(pk.RID[:]))
	sb.WriteByte(' ')
	sb.WriteString(formatColonHex([]byte{pk.Index}))
	sb.WriteByte(' ')
	fmt.Fprintf(&sb, "%06x", pk.Expire&0xffffff)
	sb.WriteByte(' ')

	if pk.PKAlgo == crypto.PKRSA {
		sb.WriteString("rsa")
	} else {
		fmt.Fprintf(&sb, "??%02x", pk.PKAlgo)
	}
	sb.WriteByte(' ')

	sb.WriteString(formatColonHex(pk.Exp))
	sb.WriteByte(' ')
	sb.WriteString(formatColonHex(pk.Modulus))
	sb.WriteByte(' ')

	if pk.HashAlgo == crypto.HashSHA1 {
		sb.WriteString("sha1")
	} else {
		fmt.Fprintf(&sb, "??%02x", pk.HashAlgo)
	}
	sb.WriteByte(' ')

	sb.WriteString(formatColonHex(pk.Hash[:]))

	return sb.String()
}

// emvPKJSON mirrors EmvPK for JSON output, rendering the binary
// fields as hex.
type emvPKJSON struct {
	RID      HexBytes `json:"rid"`
	Index    byte     `json:"index"`
	Serial   HexBytes `json:"serial"`
	PAN      HexBytes `json:"pan"`
	Expire   string   `json:"expire"`
	HashAlgo byte     `json:"hash_algo"`
	PKAlgo   byte     `json:"pk_algo"`
	Hash     HexBytes `json:"hash"`
	Exp      HexBytes `json:"exp"`
	Modulus  HexBytes `json:"modulus"`
}

func (pk *EmvPK) MarshalJSON() ([]byte, error) {
	return json.Marshal(&emvPKJSON{
		RID:      pk.RID[:],
		Index:    pk.Index,
		Serial:   pk.Serial[:],
		PAN:      pk.PAN[:],
		Expire:   fmt.Sprintf("%06x", pk.Expire&0xffffff),
		HashAlgo: pk.HashAlgo,
		PKAlgo:   pk.PKAlgo,
		Hash:     pk.Hash[:],
		Exp:      pk.Exp,
		Modulus:  pk.Modulus,
	})
}

func (pk *EmvPK) UnmarshalJSON(data []byte) error {
	var raw emvPKJSON
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	if len(raw.RID) != len(pk.RID) {
		return fmt.Errorf("emvpk: RID must be %d bytes", len(pk.RID))
	}
	if len(raw.Serial) != len(pk.Serial) {
		return fmt.Errorf("emvpk: serial must be %d bytes", len(pk.Serial))
	}
	if len(raw.PAN) != len(pk.PAN) {
		return fmt.Errorf("emvpk: PAN must be %d bytes", len(pk.PAN))
	}
	if len(raw.Hash) != len(pk.Hash) {
		return fmt.Errorf("emvpk: hash must be %d bytes", len(pk.Hash))
	}
	if len(raw.Exp) == 0 || len(raw.Exp) > 3 {
		return fmt.Errorf("emvpk: exponent must be 1..3 bytes")
	}
	expire, err := parseExpire(raw.Expire)
	if err != nil {
		return err
	}

	copy(pk.RID[:], raw.RID)
	pk.Index = raw.Index
	copy(pk.Serial[:], raw.Serial)
	copy(pk.PAN[:], raw.PAN)
	pk.Expire = expire
	pk.HashAlgo = raw.HashAlgo
	pk.PKAlgo = raw.PKAlgo
	copy(pk.Hash[:], raw.Hash)
	pk.Exp = append([]byte(nil), raw.Exp...)
	pk.Modulus = append([]byte(nil), raw.Modulus...)
	return nil
}

// Verify recomputes the registry integrity tag over
// RID ‖ Index ‖ Modulus ‖ Exp and compares it to Hash.
func (pk *EmvPK) Verify() bool {
	h, err := crypto.HashOpen(pk.HashAlgo)
	if err != nil {
		return false
	}
	h.Write(pk.RID[:])
	h.Write([]byte{pk.Index})
	h.Write(pk.Modulus)
	h.Write(pk.Exp)
	size := h.Size()
	if size == 0 || size > len(pk.Hash) {
		return false
	}
	return bytes.Equal(h.Sum(), pk.Hash[:size])
}
