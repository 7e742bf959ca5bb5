// Package idgen provides pluggable ID generation for liveblog entries and
// reader-side container handles.
//
// Constructors across the module (feedserver, liveview) accept a Generator,
// making the ID strategy a startup-time decision rather than a compile-time one.
package idgen

import (
	"crypto/rand"
	"strconv"
	"time"

	"github.com/google/uuid"
)

// Generator produces unique string identifiers.
type Generator func() string

const alphabet = "0123456789abcdefghijklmnopqrstuvwxyz"

// NanoID returns a Generator that produces base-36 IDs of the given length.
// Short and URL-safe; used for container handles that never leave the process.
func NanoID(length int) Generator {
	return func() string {
		buf := make([]byte, length)
		if _, err := rand.Read(buf); err != nil {
			panic("idgen: crypto/rand failed: " + err.Error())
		}
		for i := range buf {
			buf[i] = alphabet[int(buf[i])%len(alphabet)]
		}
		return string(buf)
	}
}

// UUIDv7 returns a Generator that produces RFC 9562 UUID v7 strings.
// Entry update IDs use it: time-sortable and safe inside a CSS attribute selector.
func UUIDv7() Generator {
	return func() string {
		return uuid.Must(uuid.NewV7()).String()
	}
}

// Prefixed wraps a Generator and prepends a fixed prefix to every ID.
func Prefixed(prefix string, gen Generator) Generator {
	return func() string {
		return prefix + gen()
	}
}

// Legacy returns the "lb-<base36 millis>-<random>" format editors emit when
// no UUID source is available. now may be nil (time.Now).
func Legacy(now func() time.Time) Generator {
	if now == nil {
		now = time.Now
	}
	suffix := NanoID(8)
	return func() string {
		return "lb-" + strconv.FormatInt(now().UnixMilli(), 36) + "-" + suffix()
	}
}

// Default is the entry ID strategy: UUIDv7.
var Default Generator = UUIDv7()

// New produces an ID using the Default generator.
func New() string {
	return Default()
}
