// Package pki implements the EMV signed-message codec and the
// certificate-chain operations built on it: recovery of issuer and ICC
// public keys, DAC and IDN extraction, CDA verification, and the
// symmetric signing side used for issuance and test benches.
//
// The EMV envelope is RSA with message recovery: the signature IS the
// ciphertext, and applying the signer's public key reconstructs a
// plaintext of exactly the modulus length:
//
//	[0]            0x6a  signed-data header
//	[1]            message type
//	[2 .. N-2-h]   message body (type specific)
//	[N-1-h .. N-2] digest over body ‖ remainder ‖ additional data
//	[N-1]          0xbc  trailer
//
// where h is the digest size of the hash algorithm the plaintext names
// at a type-specific offset.
package pki

import (
	"bytes"
	"fmt"

	"github.com/emvkit/emvpki/crypto"
	"github.com/emvkit/emvpki/types"
)

// EMV signed-data message types.
const (
	MsgIssuerCert  byte = 2 // issuer public-key certificate
	MsgDAC         byte = 3 // static data authentication block
	MsgICCCert     byte = 4 // ICC / ICC-PE public-key certificate
	MsgDynamicData byte = 5 // signed dynamic application data
)

const (
	sigHeader  = 0x6a
	sigTrailer = 0xbc
	sigPadding = 0xbb
)

// msgFormat describes the per-type plaintext layout. hashAlgoPos is
// the offset of the byte naming the hash algorithm; the plaintext
// identifies its own digest.
type msgFormat struct {
	hashAlgoPos int
}

var msgFormats = map[byte]msgFormat{
	MsgIssuerCert:  {hashAlgoPos: 11},
	MsgDAC:         {hashAlgoPos: 2},
	MsgICCCert:     {hashAlgoPos: 17},
	MsgDynamicData: {hashAlgoPos: 2},
}

// ensure reports whether data holds at least n bytes starting at off.
// Every indexed read below goes through it.
func ensure(data []byte, off, n int) bool {
	return off >= 0 && n >= 0 && off+n <= len(data)
}

// DecodeMessage recovers and verifies one signed message. cert must be
// exactly the signer's modulus length; extras are hashed after the
// recovered body in the given order (nil entries are skipped), and the
// order is part of the wire contract shared with SignMessage. On
// success the returned slice is the plaintext with the header and body
// kept and the digest and trailer stripped; the caller owns it.
func DecodeMessage(signer *types.EmvPK, msgtype byte, cert *types.TLV, extras ...*types.TLV) ([]byte, error) {
	if signer == nil || cert == nil {
		return nil, fmt.Errorf("%w: missing signer or certificate", ErrMalformedInput)
	}
	if cert.Len() != len(signer.Modulus) {
		return nil, fmt.Errorf("%w: certificate length %d != signer modulus length %d",
			ErrMalformedInput, cert.Len(), len(signer.Modulus))
	}

	pk, err := crypto.PKOpen(signer.PKAlgo, signer.Modulus, signer.Exp)
	if err != nil {
		return nil, err
	}
	plain, err := pk.Apply(cert.Value)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	n := len(plain)
	if n != len(signer.Modulus) {
		return nil, fmt.Errorf("%w: recovered %d bytes, want %d", ErrMalformedInput, n, len(signer.Modulus))
	}

	if plain[0] != sigHeader || plain[n-1] != sigTrailer {
		return nil, fmt.Errorf("%w: bad framing", ErrSignatureHeader)
	}
	if plain[1] != msgtype {
		return nil, fmt.Errorf("%w: message type %d, want %d", ErrSignatureHeader, plain[1], msgtype)
	}

	format, ok := msgFormats[msgtype]
	if !ok {
		return nil, fmt.Errorf("%w: unsupported message type %d", ErrSignatureHeader, msgtype)
	}
	if !ensure(plain, format.hashAlgoPos, 1) || format.hashAlgoPos >= n-1 {
		return nil, fmt.Errorf("%w: hash algorithm offset out of range", ErrSignatureHeader)
	}
	h, err := crypto.HashOpen(plain[format.hashAlgoPos])
	if err != nil {
		return nil, fmt.Errorf("%w: hash algorithm %#02x", ErrSignatureHeader, plain[format.hashAlgoPos])
	}
	hlen := h.Size()
	// The algorithm byte must sit inside the body, before the digest.
	if format.hashAlgoPos >= n-1-hlen {
		return nil, fmt.Errorf("%w: hash algorithm offset inside digest", ErrSignatureHeader)
	}

	h.Write(plain[1 : n-1-hlen])
	for _, extra := range extras {
		if extra == nil {
			continue
		}
		h.Write(extra.Value)
	}
	if !bytes.Equal(h.Sum(), plain[n-1-hlen:n-1]) {
		return nil, ErrHashMismatch
	}

	return plain[:n-hlen-1], nil
}

// SignMessage packs msg into the EMV envelope and applies the private
// operation. Bodies longer than the envelope spill into a remainder,
// returned as a second record under remTag; shorter bodies are padded
// with 0xbb. The digest covers the in-envelope body, then the
// remainder, then each extra buffer in order (nil entries skipped),
// which is the same order DecodeMessage hashes its extras. The signing side
// always digests with SHA-1; this matches how EMV certificates are
// produced and what the verify table expects for types 2..5.
func SignMessage(signer crypto.PrivateKey, certTag, remTag types.Tag, msg []byte, extras ...[]byte) (*types.DB, error) {
	if signer == nil {
		return nil, fmt.Errorf("%w: missing signing key", ErrMalformedInput)
	}

	h, err := crypto.HashOpen(crypto.HashSHA1)
	if err != nil {
		return nil, err
	}
	tmpLen := (signer.Bits() + 7) / 8
	partLen := tmpLen - 2 - h.Size()
	if partLen <= 0 {
		return nil, fmt.Errorf("%w: %d-bit key too small for envelope", ErrMalformedInput, signer.Bits())
	}

	tmp := make([]byte, tmpLen)
	tmp[0] = sigHeader
	tmp[tmpLen-1] = sigTrailer

	var rem []byte
	if len(msg) > partLen {
		copy(tmp[1:], msg[:partLen])
		rem = msg[partLen:]
	} else {
		copy(tmp[1:], msg)
		for i := 1 + len(msg); i < 1+partLen; i++ {
			tmp[i] = sigPadding
		}
	}

	h.Write(tmp[1 : 1+partLen])
	h.Write(rem)
	for _, extra := range extras {
		if extra == nil {
			continue
		}
		h.Write(extra)
	}
	copy(tmp[1+partLen:], h.Sum())

	cert, err := signer.Apply(tmp)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	db := types.Fixed(certTag, cert)
	if rem != nil {
		db.Add(types.Fixed(remTag, rem))
	}
	return db, nil
}
