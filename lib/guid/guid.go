/*
	Random names for temporary things: sandbox directories, ephemeral branches,
	and the disambiguating suffixes given to colliding paths.
*/
package guid

import (
	"encoding/hex"
	"strings"

	"github.com/google/uuid"
)

const size = 32

// New returns a random (v4 uuid) name as 32 lowercase hex characters.
func New() string {
	u := uuid.New()
	return hex.EncodeToString(u[:])
}

// Short returns 8 random hex characters.
func Short() string {
	return New()[:8]
}

// Valid reports whether `s` has the shape of a name returned by New.
func Valid(s string) bool {
	if len(s) != size {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil && strings.ToLower(s) == s
}
