package idgen

import (
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
)

func TestNanoID_Length(t *testing.T) {
	for _, length := range []int{6, 8, 12, 24} {
		id := NanoID(length)()
		if len(id) != length {
			t.Fatalf("NanoID(%d): got length %d", length, len(id))
		}
	}
}

func TestNanoID_Alphabet(t *testing.T) {
	id := NanoID(100)()
	for _, c := range id {
		if !strings.ContainsRune(alphabet, c) {
			t.Fatalf("NanoID: unexpected character %q in %q", c, id)
		}
	}
}

func TestNanoID_Uniqueness(t *testing.T) {
	gen := NanoID(12)
	seen := make(map[string]struct{}, 1000)
	for i := 0; i < 1000; i++ {
		id := gen()
		if _, ok := seen[id]; ok {
			t.Fatalf("NanoID: duplicate at iteration %d: %q", i, id)
		}
		seen[id] = struct{}{}
	}
}

func TestUUIDv7_Version(t *testing.T) {
	id := UUIDv7()()
	u, err := uuid.Parse(id)
	if err != nil {
		t.Fatalf("UUIDv7: parse %q: %v", id, err)
	}
	if u.Version() != 7 {
		t.Fatalf("UUIDv7: version = %d, want 7", u.Version())
	}
}

func TestPrefixed(t *testing.T) {
	id := Prefixed("lbc-", NanoID(8))()
	if !strings.HasPrefix(id, "lbc-") {
		t.Fatalf("Prefixed: expected prefix 'lbc-', got %q", id)
	}
	if len(id) != 4+8 {
		t.Fatalf("Prefixed: expected length 12, got %d", len(id))
	}
}

func TestLegacy_Format(t *testing.T) {
	at := time.UnixMilli(1700000000123)
	id := Legacy(func() time.Time { return at })()

	parts := strings.Split(id, "-")
	if len(parts) != 3 || parts[0] != "lb" {
		t.Fatalf("Legacy: unexpected shape %q", id)
	}
	ms, err := strconv.ParseInt(parts[1], 36, 64)
	if err != nil || ms != at.UnixMilli() {
		t.Fatalf("Legacy: millis segment %q decodes to %d (%v)", parts[1], ms, err)
	}
	if len(parts[2]) != 8 {
		t.Fatalf("Legacy: random segment %q, want 8 chars", parts[2])
	}
}

func TestNew_UsesDefault(t *testing.T) {
	old := Default
	t.Cleanup(func() { Default = old })
	Default = func() string { return "fixed" }
	if got := New(); got != "fixed" {
		t.Fatalf("New() = %q, want fixed", got)
	}
}
