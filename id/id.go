// Package id defines TypeID-based identifiers for every bursar entity.
//
// An ID renders as "prefix_suffix" where the prefix names the entity kind
// (batch, stu, fee, ...) and the suffix is a UUIDv7, so IDs sort by
// creation time and are safe to put in URLs and CSV exports.
package id

import (
	"database/sql/driver"
	"fmt"

	"go.jetify.com/typeid/v2"
)

// Prefix identifies the entity kind encoded in a TypeID.
type Prefix string

const (
	PrefixBatch        Prefix = "batch" // course batch
	PrefixCourse       Prefix = "crs"
	PrefixTeacher      Prefix = "tch"
	PrefixStudent      Prefix = "stu"   // student identity (user account)
	PrefixProfile      Prefix = "sprof" // student profile
	PrefixFeeStructure Prefix = "fee"
	PrefixFeePayment   Prefix = "fpay"
)

// ID is the identifier type shared by all entities. The zero value is Nil.
//
//nolint:recvcheck // Value receivers for read-only methods, pointer receivers for UnmarshalText/Scan.
type ID struct {
	inner typeid.TypeID
	valid bool
}

// Nil is the zero-value ID.
var Nil ID

// New generates an ID with the given prefix. An invalid prefix is a
// programming error and panics.
func New(prefix Prefix) ID {
	tid, err := typeid.Generate(string(prefix))
	if err != nil {
		panic(fmt.Sprintf("id: invalid prefix %q: %v", prefix, err))
	}
	return ID{inner: tid, valid: true}
}

// Parse parses "prefix_suffix" without checking the prefix.
func Parse(s string) (ID, error) {
	if s == "" {
		return Nil, fmt.Errorf("id: parse %q: empty string", s)
	}
	tid, err := typeid.Parse(s)
	if err != nil {
		return Nil, fmt.Errorf("id: parse %q: %w", s, err)
	}
	return ID{inner: tid, valid: true}, nil
}

// ParseWithPrefix parses s and rejects IDs of another entity kind.
func ParseWithPrefix(s string, expected Prefix) (ID, error) {
	parsed, err := Parse(s)
	if err != nil {
		return Nil, err
	}
	if parsed.Prefix() != expected {
		return Nil, fmt.Errorf("id: expected prefix %q, got %q", expected, parsed.Prefix())
	}
	return parsed, nil
}

// MustParse is like Parse but panics on error.
func MustParse(s string) ID {
	parsed, err := Parse(s)
	if err != nil {
		panic(fmt.Sprintf("id: must parse %q: %v", s, err))
	}
	return parsed
}

// Readable aliases used in signatures.
type (
	BatchID        = ID
	CourseID       = ID
	TeacherID      = ID
	StudentID      = ID
	ProfileID      = ID
	FeeStructureID = ID
	FeePaymentID   = ID
)

func NewBatchID() ID        { return New(PrefixBatch) }
func NewCourseID() ID       { return New(PrefixCourse) }
func NewTeacherID() ID      { return New(PrefixTeacher) }
func NewStudentID() ID      { return New(PrefixStudent) }
func NewProfileID() ID      { return New(PrefixProfile) }
func NewFeeStructureID() ID { return New(PrefixFeeStructure) }
func NewFeePaymentID() ID   { return New(PrefixFeePayment) }

func ParseBatchID(s string) (ID, error)        { return ParseWithPrefix(s, PrefixBatch) }
func ParseCourseID(s string) (ID, error)       { return ParseWithPrefix(s, PrefixCourse) }
func ParseTeacherID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixTeacher) }
func ParseStudentID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixStudent) }
func ParseProfileID(s string) (ID, error)      { return ParseWithPrefix(s, PrefixProfile) }
func ParseFeeStructureID(s string) (ID, error) { return ParseWithPrefix(s, PrefixFeeStructure) }
func ParseFeePaymentID(s string) (ID, error)   { return ParseWithPrefix(s, PrefixFeePayment) }

// String returns "prefix_suffix", or "" for Nil.
func (i ID) String() string {
	if !i.valid {
		return ""
	}
	return i.inner.String()
}

// Prefix returns the entity kind of the ID.
func (i ID) Prefix() Prefix {
	if !i.valid {
		return ""
	}
	return Prefix(i.inner.Prefix())
}

// IsNil reports whether i is the zero value.
func (i ID) IsNil() bool { return !i.valid }

// MarshalText implements encoding.TextMarshaler.
func (i ID) MarshalText() ([]byte, error) {
	if !i.valid {
		return []byte{}, nil
	}
	return []byte(i.inner.String()), nil
}

// UnmarshalText implements encoding.TextUnmarshaler. Empty input yields Nil.
func (i *ID) UnmarshalText(data []byte) error {
	if len(data) == 0 {
		*i = Nil
		return nil
	}
	parsed, err := Parse(string(data))
	if err != nil {
		return err
	}
	*i = parsed
	return nil
}

// Value implements driver.Valuer. Nil is stored as NULL so an unassigned
// batch reference on a profile reads back as Nil.
func (i ID) Value() (driver.Value, error) {
	if !i.valid {
		return nil, nil //nolint:nilnil // nil is the canonical NULL for driver.Valuer
	}
	return i.inner.String(), nil
}

// Scan implements sql.Scanner.
func (i *ID) Scan(src any) error {
	switch v := src.(type) {
	case nil:
		*i = Nil
		return nil
	case string:
		return i.UnmarshalText([]byte(v))
	case []byte:
		return i.UnmarshalText(v)
	default:
		return fmt.Errorf("id: cannot scan %T into ID", src)
	}
}
