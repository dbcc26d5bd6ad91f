package pki

import (
	"fmt"

	"github.com/emvkit/emvpki/crypto"
	"github.com/emvkit/emvpki/types"
)

// MakeCA builds a self-hashed CA public-key record from a generated
// private key. expire is packed decimal YYMMDD.
func MakeCA(key crypto.PrivateKey, rid []byte, index byte, expire uint32, hashAlgo byte) (*types.EmvPK, error) {
	if len(rid) != 5 {
		return nil, fmt.Errorf("%w: RID must be 5 bytes", ErrMalformedInput)
	}
	modulus, err := key.Parameter(0)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}
	exponent, err := key.Parameter(1)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedInput, err)
	}

	pk, err := types.NewEmvPK(len(modulus), len(exponent))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrFieldConstraint, err)
	}
	copy(pk.RID[:], rid)
	pk.Index = index
	pk.Expire = expire
	pk.PKAlgo = key.Algo()
	pk.HashAlgo = hashAlgo
	copy(pk.Modulus, modulus)
	copy(pk.Exp, exponent)

	h, err := crypto.HashOpen(hashAlgo)
	if err != nil {
		return nil, err
	}
	h.Write(pk.RID[:])
	h.Write([]byte{pk.Index})
	h.Write(pk.Modulus)
	h.Write(pk.Exp)
	copy(pk.Hash[:], h.Sum())

	return pk, nil
}

// signKey packs a public key into the certificate body and signs it.
// The exponent is hashed as detached data (it travels in its own
// record on the wire) and appended to the returned container under
// expTag.
func signKey(signer crypto.PrivateKey, pk *types.EmvPK, msgtype byte, panLen int,
	certTag, expTag, remTag types.Tag, addData []byte) (*types.DB, error) {
	if pk == nil {
		return nil, fmt.Errorf("%w: missing key to certify", ErrMalformedInput)
	}
	if len(pk.Modulus) > 0xff {
		return nil, fmt.Errorf("%w: modulus length %d does not fit the length byte",
			ErrFieldConstraint, len(pk.Modulus))
	}

	msg := make([]byte, 0, 11+panLen+len(pk.Modulus))
	msg = append(msg, msgtype)
	msg = append(msg, pk.PAN[:panLen]...)
	msg = append(msg, byte(pk.Expire>>8), byte(pk.Expire>>16))
	msg = append(msg, pk.Serial[:]...)
	msg = append(msg, pk.HashAlgo, pk.PKAlgo, byte(len(pk.Modulus)), byte(len(pk.Exp)))
	msg = append(msg, pk.Modulus...)

	db, err := SignMessage(signer, certTag, remTag, msg, pk.Exp, addData)
	if err != nil {
		return nil, err
	}
	return db.Add(types.Fixed(expTag, pk.Exp)), nil
}

// SignIssuerCert certifies an issuer public key under a CA key,
// producing the tag 90 certificate plus the 9f32 exponent and, when
// the issuer modulus spills over, the 92 remainder.
func SignIssuerCert(ca crypto.PrivateKey, issuerPK *types.EmvPK) (*types.DB, error) {
	return signKey(ca, issuerPK, MsgIssuerCert, 4,
		types.TagIssuerCert, types.TagIssuerExponent, types.TagIssuerRemainder, nil)
}

// SignICCCert certifies an ICC public key under an issuer key, binding
// the card's static data stream.
func SignICCCert(issuer crypto.PrivateKey, iccPK *types.EmvPK, sdaData []byte) (*types.DB, error) {
	return signKey(issuer, iccPK, MsgICCCert, 10,
		types.TagICCCert, types.TagICCExponent, types.TagICCRemainder, sdaData)
}

// SignICCPECert certifies an ICC PIN-encipherment key under an issuer
// key.
func SignICCPECert(issuer crypto.PrivateKey, iccPEPK *types.EmvPK) (*types.DB, error) {
	return signKey(issuer, iccPEPK, MsgICCCert, 10,
		types.TagICCPECert, types.TagICCPEExponent, types.TagICCPERemainder, nil)
}

// SignDAC signs the 2-byte Data Authentication Code over the static
// data stream, producing the tag 93 record a card would return.
func SignDAC(issuer crypto.PrivateKey, dac, sdaData []byte) (*types.DB, error) {
	if len(dac) != 2 {
		return nil, fmt.Errorf("%w: DAC must be 2 bytes", ErrMalformedInput)
	}
	msg := []byte{MsgDAC, crypto.HashSHA1, dac[0], dac[1]}
	return SignMessage(issuer, types.TagDAC, 0, msg, sdaData)
}

// SignIDN signs the ICC Dynamic Number over the terminal's dynamic
// data, producing the tag 9f4b record a card would return during DDA.
func SignIDN(icc crypto.PrivateKey, idn, dynData []byte) (*types.DB, error) {
	if len(idn) > 0xfe {
		return nil, fmt.Errorf("%w: IDN length %d does not fit the length byte",
			ErrFieldConstraint, len(idn))
	}
	msg := make([]byte, 0, 4+len(idn))
	msg = append(msg, MsgDynamicData, crypto.HashSHA1, byte(len(idn)+1), byte(len(idn)))
	msg = append(msg, idn...)
	return SignMessage(icc, types.TagSignedDynamicData, 0, msg, dynData)
}
