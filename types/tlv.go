package types

// EMV data objects are BER-TLV encoded. The engine only ever produces or
// consumes primitive records with definite lengths; constructed templates
// appear solely as records to be skipped during CDA hashing.

// Tag is a BER-TLV tag held numerically, e.g. 0x9f46 for the ICC
// public-key certificate. The numeric form is the big-endian
// concatenation of the encoded tag bytes.
type Tag uint32

const (
	TagPAN               Tag = 0x5a
	TagIssuerCert        Tag = 0x90
	TagIssuerRemainder   Tag = 0x92
	TagDAC               Tag = 0x93
	TagICCPECert         Tag = 0x9f2d
	TagICCPEExponent     Tag = 0x9f2e
	TagICCPERemainder    Tag = 0x9f2f
	TagCID               Tag = 0x9f27
	TagIssuerExponent    Tag = 0x9f32
	TagATC               Tag = 0x9f36
	TagUnpredictable     Tag = 0x9f37
	TagDACResult         Tag = 0x9f45
	TagICCCert           Tag = 0x9f46
	TagICCExponent       Tag = 0x9f47
	TagICCRemainder      Tag = 0x9f48
	TagSignedDynamicData Tag = 0x9f4b
	TagIDN               Tag = 0x9f4c
)

// Bytes returns the tag's wire encoding: the big-endian bytes of the
// numeric value with leading zero bytes dropped. Tag zero encodes as a
// single zero byte.
func (t Tag) Bytes() []byte {
	if t == 0 {
		return []byte{0}
	}
	var buf [4]byte
	n := 0
	for v := uint32(t); v != 0; v >>= 8 {
		n++
	}
	for i, v := n-1, uint32(t); i >= 0; i-- {
		buf[i] = byte(v)
		v >>= 8
	}
	return buf[:n]
}

// Constructed reports whether the tag names a constructed data object
// (bit 6 of the leading tag byte).
func (t Tag) Constructed() bool {
	return t.Bytes()[0]&0x20 != 0
}

// TLV is a single tag-value record. The engine treats records as
// immutable: it never modifies a value it received, and values it hands
// out are freshly allocated.
type TLV struct {
	Tag   Tag
	Value []byte
}

// Len returns the value length in bytes.
func (t *TLV) Len() int {
	return len(t.Value)
}

// Encode returns the canonical BER encoding of the record:
// tag bytes, definite length, value.
func (t *TLV) Encode() []byte {
	tag := t.Tag.Bytes()
	length := encodeLength(len(t.Value))
	out := make([]byte, 0, len(tag)+len(length)+len(t.Value))
	out = append(out, tag...)
	out = append(out, length...)
	out = append(out, t.Value...)
	return out
}

func encodeLength(n int) []byte {
	if n < 0x80 {
		return []byte{byte(n)}
	}
	var body [4]byte
	i := len(body)
	for v := n; v != 0; v >>= 8 {
		i--
		body[i] = byte(v)
	}
	out := make([]byte, 0, 1+len(body)-i)
	out = append(out, 0x80|byte(len(body)-i))
	return append(out, body[i:]...)
}

// Visitor is invoked for every record during DB.Visit, in insertion
// order. Returning false stops the traversal.
type Visitor func(tlv *TLV) bool

// DB is an ordered collection of TLV records. The zero value is an
// empty collection ready for use. A DB owns the values it stores;
// constructors copy their input.
type DB struct {
	recs []*TLV
}

// NewDB returns a DB holding copies of the given records, in order.
func NewDB(tlvs ...*TLV) *DB {
	db := &DB{}
	for _, t := range tlvs {
		db.recs = append(db.recs, &TLV{Tag: t.Tag, Value: append([]byte(nil), t.Value...)})
	}
	return db
}

// Fixed returns a DB holding a single record with a copy of value.
func Fixed(tag Tag, value []byte) *DB {
	return NewDB(&TLV{Tag: tag, Value: value})
}

// Add appends all records of other to db. The records themselves are
// shared, not copied; other should be discarded afterwards.
func (db *DB) Add(other *DB) *DB {
	if other != nil {
		db.recs = append(db.recs, other.recs...)
	}
	return db
}

// Get returns the first record with the given tag, or nil. The returned
// record is a borrowed view owned by the DB.
func (db *DB) Get(tag Tag) *TLV {
	if db == nil {
		return nil
	}
	for _, t := range db.recs {
		if t.Tag == tag {
			return t
		}
	}
	return nil
}

// Visit traverses all records in insertion order.
func (db *DB) Visit(fn Visitor) {
	if db == nil {
		return
	}
	for _, t := range db.recs {
		if !fn(t) {
			return
		}
	}
}

// Len returns the number of records.
func (db *DB) Len() int {
	if db == nil {
		return 0
	}
	return len(db.recs)
}
