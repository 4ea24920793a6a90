package faults

import (
	"errors"
	"fmt"
	"testing"

	"gorm.io/gorm"
)

func TestCodeOf(t *testing.T) {
	err := New(CodeValidation, "zone.upsert", "zone id is required", nil)
	if CodeOf(err) != CodeValidation {
		t.Fatalf("code = %s", CodeOf(err))
	}
	wrapped := fmt.Errorf("outer: %w", err)
	if CodeOf(wrapped) != CodeValidation {
		t.Fatalf("code must survive wrapping, got %s", CodeOf(wrapped))
	}
	if CodeOf(errors.New("plain")) != CodeInternal {
		t.Fatalf("untagged errors default to internal")
	}
}

func TestFatal(t *testing.T) {
	if !Fatal(New(CodeInitialization, "db.open", "", nil)) {
		t.Fatalf("initialization faults are fatal")
	}
	if !Fatal(New(CodeMigration, "db.evolve_schema", "", nil)) {
		t.Fatalf("migration faults are fatal")
	}
	for _, code := range []Code{CodeCapabilityUnavailable, CodeRowWrite, CodeConsistency, CodeValidation, CodeNotFound} {
		if Fatal(New(code, "op", "", nil)) {
			t.Fatalf("%s should not be fatal", code)
		}
	}
}

func TestWrapNil(t *testing.T) {
	if Wrap(CodeRowWrite, "op", nil) != nil {
		t.Fatalf("wrapping nil should stay nil")
	}
}

func TestMapError(t *testing.T) {
	cases := []struct {
		in   error
		want Code
	}{
		{gorm.ErrRecordNotFound, CodeNotFound},
		{errors.New("UNIQUE constraint failed: clash_zone.id"), CodeRowWrite},
		{errors.New("CHECK constraint failed: chk_constituent_kind"), CodeConsistency},
		{errors.New("no such table: clash_zone"), CodeMigration},
		{errors.New("no such column: state"), CodeMigration},
		{errors.New("disk I/O error"), CodeInternal},
	}
	for _, tc := range cases {
		if got := CodeOf(MapError("op", tc.in)); got != tc.want {
			t.Fatalf("MapError(%v) = %s, want %s", tc.in, got, tc.want)
		}
	}
	if MapError("op", nil) != nil {
		t.Fatalf("nil maps to nil")
	}
	// Already-tagged faults pass through untouched.
	tagged := New(CodeConsistency, "spatial.verify", "", nil)
	if MapError("op", tagged) != tagged {
		t.Fatalf("tagged faults must not be re-wrapped")
	}
}

func TestErrorString(t *testing.T) {
	err := New(CodeNotFound, "zone.get", "zone 123", nil)
	got := err.Error()
	if got != "zone.get: zone 123 (not_found)" {
		t.Fatalf("unexpected error string: %q", got)
	}
	cause := errors.New("root")
	if !errors.Is(Wrap(CodeInternal, "op", cause), cause) {
		t.Fatalf("unwrap chain broken")
	}
}
