package pki

import (
	"bytes"
	"fmt"

	"github.com/emvkit/emvpki/crypto"
	"github.com/emvkit/emvpki/types"
)

// cnLength returns the digit count of a compressed-numeric value: the
// PAN is BCD with nibble 0xf marking end of number.
func cnLength(v []byte) int {
	for i, c := range v {
		if c>>4 == 0xf {
			return 2 * i
		}
		if c&0xf == 0xf {
			return 2*i + 1
		}
	}
	return 2 * len(v)
}

// cnAt returns the nibble at digit position pos, or 0xf past the end.
func cnAt(v []byte, pos int) byte {
	if pos < 0 || pos >= 2*len(v) {
		return 0xf
	}
	c := v[pos/2]
	if pos%2 == 1 {
		return c & 0xf
	}
	return c >> 4
}

// Recovered key-bearing certificate body, after the envelope header:
//
//	[1]          message type
//	[2 .. 2+P-1] PAN prefix (P = 4 for issuer, 10 for ICC)
//	[2+P]        expiry month
//	[3+P]        expiry year
//	[4+P .. 6+P] certificate serial
//	[7+P]        hash algorithm
//	[8+P]        pk algorithm
//	[9+P]        modulus length M
//	[10+P]       exponent length
//	[11+P ..]    leading modulus bytes; the tail, if any, comes from
//	             the remainder record
func decodeKey(signer *types.EmvPK, msgtype byte, panTLV, certTLV, expTLV, remTLV, addTLV *types.TLV) (*types.EmvPK, error) {
	if certTLV == nil || expTLV == nil || panTLV == nil {
		return nil, fmt.Errorf("%w: missing certificate, exponent, or PAN record", ErrMalformedInput)
	}
	if remTLV == nil {
		remTLV = &types.TLV{}
	}

	var panLen int
	switch msgtype {
	case MsgIssuerCert:
		panLen = 4
	case MsgICCCert:
		panLen = 10
	default:
		return nil, fmt.Errorf("%w: message type %d carries no key", ErrMalformedInput, msgtype)
	}

	data, err := DecodeMessage(signer, msgtype, certTLV, remTLV, expTLV, addTLV)
	if err != nil {
		return nil, err
	}
	if !ensure(data, 0, 11+panLen) {
		return nil, fmt.Errorf("%w: certificate body too short", ErrMalformedInput)
	}

	embedded := data[2 : 2+panLen]
	panDigits := cnLength(panTLV.Value)
	embeddedDigits := cnLength(embedded)
	switch msgtype {
	case MsgIssuerCert:
		if embeddedDigits < 4 || embeddedDigits > panDigits {
			return nil, fmt.Errorf("%w: issuer identifier length %d outside 4..%d digits",
				ErrFieldConstraint, embeddedDigits, panDigits)
		}
	case MsgICCCert:
		if embeddedDigits != panDigits {
			return nil, fmt.Errorf("%w: embedded PAN has %d digits, PAN has %d",
				ErrFieldConstraint, embeddedDigits, panDigits)
		}
	}
	for i := 0; i < embeddedDigits; i++ {
		if cnAt(panTLV.Value, i) != cnAt(embedded, i) {
			return nil, fmt.Errorf("%w: PAN digit %d disagrees", ErrFieldConstraint, i)
		}
	}

	avail := len(data) - (11 + panLen) // modulus bytes present in the body
	pkLen := int(data[9+panLen])
	if pkLen > avail+remTLV.Len() {
		return nil, fmt.Errorf("%w: declared modulus length %d exceeds %d recovered bytes",
			ErrFieldConstraint, pkLen, avail+remTLV.Len())
	}
	if expTLV.Len() != int(data[10+panLen]) {
		return nil, fmt.Errorf("%w: exponent record length %d != declared %d",
			ErrFieldConstraint, expTLV.Len(), data[10+panLen])
	}

	pk, err := types.NewEmvPK(pkLen, expTLV.Len())
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFieldConstraint, err)
	}
	pk.RID = signer.RID
	pk.Index = signer.Index
	pk.HashAlgo = data[7+panLen]
	pk.PKAlgo = data[8+panLen]
	// Certificates carry YYMM only; the day is pinned to the 31st.
	pk.Expire = uint32(data[3+panLen])<<16 | uint32(data[2+panLen])<<8 | 0x31
	copy(pk.Serial[:], data[4+panLen:7+panLen])
	copy(pk.PAN[:], embedded)
	for i := panLen; i < len(pk.PAN); i++ {
		pk.PAN[i] = 0xff
	}

	n := copy(pk.Modulus, data[11+panLen:])
	copy(pk.Modulus[n:], remTLV.Value)
	copy(pk.Exp, expTLV.Value)

	return pk, nil
}

// RecoverIssuerCert recovers the issuer public key from the issuer
// certificate (tag 90) under the given CA key. db must also hold the
// PAN (5a), the issuer exponent (9f32), and the remainder (92) when
// the issuer modulus does not fit the certificate.
func RecoverIssuerCert(ca *types.EmvPK, db *types.DB) (*types.EmvPK, error) {
	return decodeKey(ca, MsgIssuerCert,
		db.Get(types.TagPAN),
		db.Get(types.TagIssuerCert),
		db.Get(types.TagIssuerExponent),
		db.Get(types.TagIssuerRemainder),
		nil)
}

// RecoverICCCert recovers the ICC public key from the ICC certificate
// (tag 9f46) under the issuer key, binding the card's static data
// stream into the signature.
func RecoverICCCert(issuer *types.EmvPK, db *types.DB, sdaData []byte) (*types.EmvPK, error) {
	return decodeKey(issuer, MsgICCCert,
		db.Get(types.TagPAN),
		db.Get(types.TagICCCert),
		db.Get(types.TagICCExponent),
		db.Get(types.TagICCRemainder),
		&types.TLV{Value: sdaData})
}

// RecoverICCPECert recovers the ICC PIN-encipherment public key
// (tag 9f2d) under the issuer key.
func RecoverICCPECert(issuer *types.EmvPK, db *types.DB) (*types.EmvPK, error) {
	return decodeKey(issuer, MsgICCCert,
		db.Get(types.TagPAN),
		db.Get(types.TagICCPECert),
		db.Get(types.TagICCPEExponent),
		db.Get(types.TagICCPERemainder),
		nil)
}

// RecoverDAC verifies the signed static application data (tag 93)
// against the SDA stream and returns the 2-byte Data Authentication
// Code as a tag 9f45 record.
func RecoverDAC(issuer *types.EmvPK, db *types.DB, sdaData []byte) (*types.DB, error) {
	data, err := DecodeMessage(issuer, MsgDAC,
		db.Get(types.TagDAC),
		&types.TLV{Value: sdaData})
	if err != nil {
		return nil, err
	}
	if !ensure(data, 3, 2) {
		return nil, fmt.Errorf("%w: static data block too short", ErrMalformedInput)
	}
	return types.Fixed(types.TagDACResult, data[3:5]), nil
}

// RecoverIDN verifies the signed dynamic application data (tag 9f4b)
// against the terminal's dynamic data and returns the ICC Dynamic
// Number as a tag 9f4c record. The body carries the dynamic-data
// length at [3] and the IDN length at [4].
func RecoverIDN(icc *types.EmvPK, db *types.DB, dynData []byte) (*types.DB, error) {
	data, err := DecodeMessage(icc, MsgDynamicData,
		db.Get(types.TagSignedDynamicData),
		&types.TLV{Value: dynData})
	if err != nil {
		return nil, err
	}
	if !ensure(data, 3, 2) {
		return nil, fmt.Errorf("%w: dynamic data block too short", ErrMalformedInput)
	}
	dynLen := int(data[3])
	if dynLen < 2 || dynLen > len(data)-3 {
		return nil, fmt.Errorf("%w: dynamic data length %d", ErrFieldConstraint, dynLen)
	}
	idnLen := int(data[4])
	if idnLen > dynLen-1 || !ensure(data, 5, idnLen) {
		return nil, fmt.Errorf("%w: IDN length %d", ErrFieldConstraint, idnLen)
	}
	return types.Fixed(types.TagIDN, data[5:5+idnLen]), nil
}

// PerformCDA verifies combined data authentication: the signed dynamic
// application data from thisDB (tag 9f4b) under the ICC key, with the
// unpredictable number (9f37, from db) bound into the signature. The
// embedded transaction hash must cover the PDOL data, both command
// records, and every primitive record of thisDB except 9f4b itself;
// the embedded CID must match the 9f27 record. Returns the IDN as a
// tag 9f4c record.
func PerformCDA(icc *types.EmvPK, db, thisDB *types.DB, pdolData, crm1Data, crm2Data []byte) (*types.DB, error) {
	unTLV := db.Get(types.TagUnpredictable)
	cidTLV := thisDB.Get(types.TagCID)
	if unTLV == nil || cidTLV == nil {
		return nil, fmt.Errorf("%w: missing unpredictable number or CID", ErrMalformedInput)
	}

	data, err := DecodeMessage(icc, MsgDynamicData,
		thisDB.Get(types.TagSignedDynamicData),
		unTLV)
	if err != nil {
		return nil, err
	}
	if !ensure(data, 3, 2) {
		return nil, fmt.Errorf("%w: dynamic data block too short", ErrMalformedInput)
	}
	dynLen := int(data[3])
	if dynLen < 30 || dynLen > len(data)-4 {
		return nil, fmt.Errorf("%w: dynamic data length %d", ErrFieldConstraint, dynLen)
	}
	idnLen := int(data[4])
	cidPos := 5 + idnLen
	if idnLen > dynLen-1 || !ensure(data, cidPos, 1) {
		return nil, fmt.Errorf("%w: IDN length %d", ErrFieldConstraint, idnLen)
	}
	if cidTLV.Len() != 1 || cidTLV.Value[0] != data[cidPos] {
		return nil, fmt.Errorf("%w: CID disagrees with signed value", ErrFieldConstraint)
	}

	h, err := crypto.HashOpen(icc.HashAlgo)
	if err != nil {
		return nil, fmt.Errorf("%w: hash algorithm %#02x", ErrSignatureHeader, icc.HashAlgo)
	}
	h.Write(pdolData)
	h.Write(crm1Data)
	h.Write(crm2Data)
	thisDB.Visit(func(tlv *types.TLV) bool {
		if tlv.Tag.Constructed() || tlv.Tag == types.TagSignedDynamicData {
			return true
		}
		h.Write(tlv.Encode())
		return true
	})

	// The transaction hash sits past the CID and the 8-byte cryptogram.
	hashPos := cidPos + 1 + 8
	hlen := h.Size()
	if !ensure(data, hashPos, hlen) {
		return nil, fmt.Errorf("%w: dynamic data block too short", ErrMalformedInput)
	}
	if !bytes.Equal(data[hashPos:hashPos+hlen], h.Sum()) {
		return nil, fmt.Errorf("%w: transaction data", ErrHashMismatch)
	}

	return types.Fixed(types.TagIDN, data[5:5+idnLen]), nil
}
