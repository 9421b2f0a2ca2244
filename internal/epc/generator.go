package epc

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"io"
	"strings"
)

// VendorPrefix is the fixed 2-byte prefix of every SoundVault EPC.
const VendorPrefix = "5356"

const (
	suffixBytes = 10
	hexLen      = 24

	// maxAttempts bounds the collision-retry loop. With an 80-bit random
	// suffix this only trips if the random source is broken.
	maxAttempts = 64
)

// Generator produces 96-bit EPC identifiers: the vendor prefix followed by
// 10 random bytes, formatted as 24 uppercase hex characters.
type Generator struct {
	random io.Reader
}

func NewGenerator() *Generator {
	return &Generator{random: rand.Reader}
}

// NewGeneratorWithSource injects a deterministic random source for tests.
func NewGeneratorWithSource(source io.Reader) *Generator {
	return &Generator{random: source}
}

// Generate draws random suffixes until the result is absent from existing.
// The set covers only EPCs known to the caller; the write state machine
// still re-checks the repository before committing, and a duplicate insert
// there just triggers regeneration.
func (g *Generator) Generate(existing map[string]struct{}) (string, error) {
	suffix := make([]byte, suffixBytes)
	for attempt := 0; attempt < maxAttempts; attempt++ {
		if _, err := io.ReadFull(g.random, suffix); err != nil {
			return "", fmt.Errorf("read random suffix: %w", err)
		}
		candidate := VendorPrefix + strings.ToUpper(hex.EncodeToString(suffix))
		if _, taken := existing[candidate]; taken {
			continue
		}
		return candidate, nil
	}
	return "", fmt.Errorf("no unused epc after %d attempts", maxAttempts)
}

// Valid reports whether s is a well-formed SoundVault EPC.
func Valid(s string) bool {
	if len(s) != hexLen || !strings.HasPrefix(s, VendorPrefix) {
		return false
	}
	_, err := hex.DecodeString(s)
	return err == nil
}
