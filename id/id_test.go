package id_test

import (
	"strings"
	"testing"

	"github.com/xraph/bursar/id"
)

var kinds = []struct {
	name    string
	newFn   func() id.ID
	parseFn func(string) (id.ID, error)
	prefix  string
}{
	{"Batch", id.NewBatchID, id.ParseBatchID, "batch_"},
	{"Course", id.NewCourseID, id.ParseCourseID, "crs_"},
	{"Teacher", id.NewTeacherID, id.ParseTeacherID, "tch_"},
	{"Student", id.NewStudentID, id.ParseStudentID, "stu_"},
	{"Profile", id.NewProfileID, id.ParseProfileID, "sprof_"},
	{"FeeStructure", id.NewFeeStructureID, id.ParseFeeStructureID, "fee_"},
	{"FeePayment", id.NewFeePaymentID, id.ParseFeePaymentID, "fpay_"},
}

func TestConstructorsAndRoundTrip(t *testing.T) {
	for _, k := range kinds {
		t.Run(k.name, func(t *testing.T) {
			original := k.newFn()
			if !strings.HasPrefix(original.String(), k.prefix) {
				t.Fatalf("expected prefix %q, got %q", k.prefix, original.String())
			}
			parsed, err := k.parseFn(original.String())
			if err != nil {
				t.Fatalf("parse failed: %v", err)
			}
			if parsed != original {
				t.Errorf("round-trip mismatch: %q != %q", parsed, original)
			}
		})
	}
}

func TestCrossKindRejection(t *testing.T) {
	for i, k := range kinds {
		other := kinds[(i+1)%len(kinds)]
		t.Run(k.name, func(t *testing.T) {
			if _, err := k.parseFn(other.newFn().String()); err == nil {
				t.Errorf("Parse%sID accepted a %s ID", k.name, other.name)
			}
		})
	}
}

func TestParseEmpty(t *testing.T) {
	if _, err := id.Parse(""); err == nil {
		t.Error("expected error for empty string")
	}
}

func TestMustParsePanics(t *testing.T) {
	defer func() {
		if recover() == nil {
			t.Error("expected panic")
		}
	}()
	id.MustParse("not an id")
}

func TestNilID(t *testing.T) {
	var i id.ID
	if !i.IsNil() {
		t.Error("zero-value ID should be nil")
	}
	if i.String() != "" || i.Prefix() != "" {
		t.Errorf("expected empty string and prefix, got %q / %q", i.String(), i.Prefix())
	}
}

func TestMarshalUnmarshalText(t *testing.T) {
	original := id.NewStudentID()
	data, err := original.MarshalText()
	if err != nil {
		t.Fatalf("MarshalText failed: %v", err)
	}
	var restored id.ID
	if err := restored.UnmarshalText(data); err != nil {
		t.Fatalf("UnmarshalText failed: %v", err)
	}
	if restored != original {
		t.Errorf("mismatch: %q != %q", restored, original)
	}

	var empty id.ID
	if err := empty.UnmarshalText(nil); err != nil || !empty.IsNil() {
		t.Errorf("empty text should decode to Nil, got %q (%v)", empty, err)
	}
}

func TestValueScan(t *testing.T) {
	original := id.NewBatchID()
	val, err := original.Value()
	if err != nil {
		t.Fatalf("Value failed: %v", err)
	}
	var scanned id.ID
	if err := scanned.Scan(val); err != nil {
		t.Fatalf("Scan failed: %v", err)
	}
	if scanned != original {
		t.Errorf("mismatch: %q != %q", scanned, original)
	}

	// unassigned batch reference
	val, err = id.Nil.Value()
	if err != nil || val != nil {
		t.Fatalf("Nil.Value() = %v, %v; want nil, nil", val, err)
	}
	for _, src := range []any{nil, "", []byte{}} {
		var s id.ID
		if err := s.Scan(src); err != nil || !s.IsNil() {
			t.Errorf("Scan(%#v) = %q, %v; want Nil", src, s, err)
		}
	}
	var bad id.ID
	if err := bad.Scan(42); err == nil {
		t.Error("expected error scanning int")
	}
}

func TestUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for range 100 {
		s := id.NewFeePaymentID().String()
		if seen[s] {
			t.Fatalf("duplicate ID %q", s)
		}
		seen[s] = true
	}
}
