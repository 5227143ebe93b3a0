package utils

import (
	"crypto/rand"
	"encoding/base32"
	"encoding/json"
	"errors"
	"fmt"
	"strings"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/bsontype"
	"go.mongodb.org/mongo-driver/x/bsonx/bsoncore"
)

// SixIDHookFunc defines the signature for the NewSixID test hook.
// It returns a SixID and a boolean indicating whether to override the default generation.
type SixIDHookFunc func() (id SixID, override bool)

// NewSixIDHook lets tests force the IDs handed out by NewSixID.
var NewSixIDHook SixIDHookFunc

// sixIDSubtype is the custom BSON binary subtype used for SixID values.
const sixIDSubtype byte = 0x80

// SixID is a 6-byte random identifier. It is stored in MongoDB as binary
// subtype 0x80 and rendered as 10 Crockford Base32 characters everywhere else.
type SixID [6]byte

const crockfordAlphabet = "0123456789ABCDEFGHJKMNPQRSTVWXYZ"

var crockford = base32.NewEncoding(crockfordAlphabet).WithPadding(base32.NoPadding)

// ErrInvalidSixID is returned when a string or BSON value cannot be decoded.
var ErrInvalidSixID = errors.New("invalid SixID")

// NewSixID creates a new SixID from crypto/rand.
func NewSixID() SixID {
	if NewSixIDHook != nil {
		if id, override := NewSixIDHook(); override {
			return id
		}
	}
	var id SixID
	if _, err := rand.Read(id[:]); err != nil {
		// crypto/rand does not fail on supported platforms
		panic(fmt.Sprintf("sixid: random source failed: %v", err))
	}
	return id
}

// ParseSixID parses the Crockford Base32 form produced by String.
// Lowercase letters and the usual confusables (O, I, L) are accepted; hyphens
// and spaces are ignored.
func ParseSixID(s string) (SixID, error) {
	s = strings.NewReplacer("-", "", " ", "").Replace(s)
	if len(s) != 10 {
		return SixID{}, fmt.Errorf("%w: expected 10 characters, got %d", ErrInvalidSixID, len(s))
	}
	s = strings.ToUpper(s)
	s = strings.NewReplacer("O", "0", "I", "1", "L", "1").Replace(s)

	raw, err := crockford.DecodeString(s)
	if err != nil || len(raw) != 6 {
		return SixID{}, fmt.Errorf("%w: %q", ErrInvalidSixID, s)
	}
	var id SixID
	copy(id[:], raw)
	return id, nil
}

// String returns the Crockford Base32 representation.
func (id SixID) String() string {
	return crockford.EncodeToString(id[:])
}

// IsZero reports whether the ID is unset. The BSON encoder uses it for omitempty.
func (id SixID) IsZero() bool {
	return id == SixID{}
}

// MarshalBSONValue stores the ID as BSON binary with subtype 0x80.
func (id SixID) MarshalBSONValue() (bsontype.Type, []byte, error) {
	return bson.TypeBinary, bsoncore.AppendBinary(nil, sixIDSubtype, id[:]), nil
}

// UnmarshalBSONValue reads a BSON binary with subtype 0x80 and length 6.
func (id *SixID) UnmarshalBSONValue(t bsontype.Type, data []byte) error {
	if t == bson.TypeNull {
		*id = SixID{}
		return nil
	}
	if t != bson.TypeBinary {
		return fmt.Errorf("%w: unexpected BSON type %s", ErrInvalidSixID, t)
	}
	subtype, bin, _, ok := bsoncore.ReadBinary(data)
	if !ok || subtype != sixIDSubtype || len(bin) != 6 {
		return fmt.Errorf("%w: bad binary payload", ErrInvalidSixID)
	}
	copy(id[:], bin)
	return nil
}

// MarshalJSON marshals the ID as its string form.
func (id SixID) MarshalJSON() ([]byte, error) {
	return json.Marshal(id.String())
}

// UnmarshalJSON accepts the string form produced by MarshalJSON.
func (id *SixID) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := ParseSixID(s)
	if err != nil {
		return err
	}
	*id = parsed
	return nil
}
