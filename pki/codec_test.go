package pki

import (
	"crypto/rsa"
	"math/big"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/emvkit/emvpki/crypto"
	"github.com/emvkit/emvpki/types"
)

var testRID = []byte{0xa0, 0x00, 0x00, 0x00, 0x03}

// testSigner generates a signing key and its matching public-key
// record.
func testSigner(t *testing.T, bits int) (crypto.PrivateKey, *types.EmvPK) {
	t.Helper()
	key, err := crypto.GenerateKey(crypto.PKRSA, bits)
	require.NoError(t, err)
	pk, err := MakeCA(key, testRID, 0x92, 0x991231, crypto.HashSHA1)
	require.NoError(t, err)
	return key, pk
}

func TestSignDecodeRoundTrip(t *testing.T) {
	key, pub := testSigner(t, 1024)

	msg := []byte{MsgDAC, crypto.HashSHA1, 0xde, 0xad, 0xbe, 0xef}
	db, err := SignMessage(key, types.TagDAC, 0, msg)
	require.NoError(t, err)

	cert := db.Get(types.TagDAC)
	require.NotNil(t, cert)
	require.Equal(t, 128, cert.Len())
	require.Nil(t, db.Get(types.TagIssuerRemainder))

	data, err := DecodeMessage(pub, MsgDAC, cert)
	require.NoError(t, err)
	require.Equal(t, byte(0x6a), data[0])
	require.Equal(t, msg, data[1:1+len(msg)])
	// Unused body bytes are padded.
	require.Equal(t, byte(0xbb), data[1+len(msg)])
	require.Len(t, data, 128-20-1)
}

func TestSignDecodeWithExtras(t *testing.T) {
	key, pub := testSigner(t, 1024)

	msg := []byte{MsgDAC, crypto.HashSHA1, 0xab, 0xcd}
	sda := make([]byte, 0x40)
	for i := range sda {
		sda[i] = byte(i)
	}

	db, err := SignMessage(key, types.TagDAC, 0, msg, sda)
	require.NoError(t, err)
	cert := db.Get(types.TagDAC)

	_, err = DecodeMessage(pub, MsgDAC, cert, &types.TLV{Value: sda})
	require.NoError(t, err)

	// Leaving out the detached data breaks the digest.
	_, err = DecodeMessage(pub, MsgDAC, cert)
	require.ErrorIs(t, err, ErrHashMismatch)

	// So does reordering two detached buffers relative to signing.
	db2, err := SignMessage(key, types.TagDAC, 0, msg, sda[:16], sda[16:])
	require.NoError(t, err)
	cert2 := db2.Get(types.TagDAC)
	_, err = DecodeMessage(pub, MsgDAC, cert2,
		&types.TLV{Value: sda[16:]}, &types.TLV{Value: sda[:16]})
	require.ErrorIs(t, err, ErrHashMismatch)
	_, err = DecodeMessage(pub, MsgDAC, cert2,
		&types.TLV{Value: sda[:16]}, &types.TLV{Value: sda[16:]})
	require.NoError(t, err)
}

func TestSignDecodeRemainder(t *testing.T) {
	key, pub := testSigner(t, 1024)

	// A body longer than the envelope spills into the remainder:
	// 128 - 2 - 20 = 106 bytes fit.
	msg := make([]byte, 150)
	msg[0] = MsgDynamicData
	msg[1] = crypto.HashSHA1
	for i := 2; i < len(msg); i++ {
		msg[i] = byte(i)
	}

	db, err := SignMessage(key, types.TagSignedDynamicData, types.TagICCRemainder, msg)
	require.NoError(t, err)
	rem := db.Get(types.TagICCRemainder)
	require.NotNil(t, rem)
	require.Equal(t, 150-106, rem.Len())
	require.Equal(t, msg[106:], rem.Value)

	data, err := DecodeMessage(pub, MsgDynamicData, db.Get(types.TagSignedDynamicData), rem)
	require.NoError(t, err)
	require.Equal(t, msg[:106], data[1:107])
}

func TestDecodeRejectsNilInputs(t *testing.T) {
	_, pub := testSigner(t, 1024)
	_, err := DecodeMessage(nil, MsgDAC, &types.TLV{})
	require.ErrorIs(t, err, ErrMalformedInput)
	_, err = DecodeMessage(pub, MsgDAC, nil)
	require.ErrorIs(t, err, ErrMalformedInput)
}

func TestDecodeRejectsWrongLength(t *testing.T) {
	key, pub := testSigner(t, 1024)
	db, err := SignMessage(key, types.TagDAC, 0, []byte{MsgDAC, crypto.HashSHA1, 1, 2})
	require.NoError(t, err)
	cert := db.Get(types.TagDAC)

	// One byte short or long must fail before any crypto runs.
	short := &types.TLV{Tag: cert.Tag, Value: cert.Value[:cert.Len()-1]}
	_, err = DecodeMessage(pub, MsgDAC, short)
	require.ErrorIs(t, err, ErrMalformedInput)

	long := &types.TLV{Tag: cert.Tag, Value: append(append([]byte(nil), cert.Value...), 0x00)}
	_, err = DecodeMessage(pub, MsgDAC, long)
	require.ErrorIs(t, err, ErrMalformedInput)
}

func TestDecodeRejectsWrongType(t *testing.T) {
	key, pub := testSigner(t, 1024)
	db, err := SignMessage(key, types.TagDAC, 0, []byte{MsgDAC, crypto.HashSHA1, 1, 2})
	require.NoError(t, err)

	_, err = DecodeMessage(pub, MsgDynamicData, db.Get(types.TagDAC))
	require.ErrorIs(t, err, ErrSignatureHeader)

	_, err = DecodeMessage(pub, 7, db.Get(types.TagDAC))
	require.ErrorIs(t, err, ErrSignatureHeader)
}

func TestDecodeRejectsWrongSigner(t *testing.T) {
	key, _ := testSigner(t, 1024)
	_, otherPub := testSigner(t, 1024)

	db, err := SignMessage(key, types.TagDAC, 0, []byte{MsgDAC, crypto.HashSHA1, 1, 2})
	require.NoError(t, err)

	_, err = DecodeMessage(otherPub, MsgDAC, db.Get(types.TagDAC))
	require.Error(t, err)
}

func TestBitFlipsFail(t *testing.T) {
	key, pub := testSigner(t, 1024)

	msg := []byte{MsgDAC, crypto.HashSHA1, 0xab, 0xcd}
	sda := []byte{0x01, 0x02, 0x03, 0x04}
	db, err := SignMessage(key, types.TagDAC, 0, msg, sda)
	require.NoError(t, err)
	cert := db.Get(types.TagDAC)

	// Ciphertext corruption scrambles the whole plaintext.
	for _, pos := range []int{0, 1, 17, 63, 127} {
		for bit := 0; bit < 8; bit++ {
			flipped := append([]byte(nil), cert.Value...)
			flipped[pos] ^= 1 << bit
			_, err := DecodeMessage(pub, MsgDAC, &types.TLV{Tag: cert.Tag, Value: flipped}, &types.TLV{Value: sda})
			require.Error(t, err, "flip byte %d bit %d", pos, bit)
		}
	}

	// Detached data corruption must hit the digest comparison.
	for bit := 0; bit < 8; bit++ {
		flipped := append([]byte(nil), sda...)
		flipped[2] ^= 1 << bit
		_, err := DecodeMessage(pub, MsgDAC, cert, &types.TLV{Value: flipped})
		require.ErrorIs(t, err, ErrHashMismatch)
	}
}

func TestRemainderBitFlipFails(t *testing.T) {
	key, pub := testSigner(t, 1024)

	msg := make([]byte, 120)
	msg[0] = MsgDynamicData
	msg[1] = crypto.HashSHA1
	db, err := SignMessage(key, types.TagSignedDynamicData, types.TagICCRemainder, msg)
	require.NoError(t, err)
	rem := db.Get(types.TagICCRemainder)
	require.NotNil(t, rem)

	flipped := append([]byte(nil), rem.Value...)
	flipped[0] ^= 0x80
	_, err = DecodeMessage(pub, MsgDynamicData, db.Get(types.TagSignedDynamicData),
		&types.TLV{Tag: rem.Tag, Value: flipped})
	require.ErrorIs(t, err, ErrHashMismatch)
}

func TestSignRejectsTinyKey(t *testing.T) {
	// A 64-bit modulus cannot hold header, trailer, and a SHA-1
	// digest. Built by hand since keygen refuses sizes this small.
	p := big.NewInt(4294967291)
	q := big.NewInt(4294967279)
	n := new(big.Int).Mul(p, q)
	phi := new(big.Int).Mul(new(big.Int).Sub(p, big.NewInt(1)), new(big.Int).Sub(q, big.NewInt(1)))
	d := new(big.Int).ModInverse(big.NewInt(65537), phi)
	require.NotNil(t, d)
	key := crypto.NewPrivateKey(&rsa.PrivateKey{
		PublicKey: rsa.PublicKey{N: n, E: 65537},
		D:         d,
		Primes:    []*big.Int{p, q},
	})

	_, err := SignMessage(key, types.TagDAC, 0, []byte{MsgDAC})
	require.ErrorIs(t, err, ErrMalformedInput)
}
