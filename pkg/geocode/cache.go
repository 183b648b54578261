package geocode

import (
	"crypto/sha256"
	"fmt"
	"strings"
)

// cacheKey returns SHA-256 hex of the normalized address for cache lookup.
func cacheKey(addr AddressInput) string {
	normalized := fmt.Sprintf("%s|%s|%s|%s",
		strings.ToLower(strings.TrimSpace(addr.Street)),
		strings.ToLower(strings.TrimSpace(addr.City)),
		strings.ToLower(strings.TrimSpace(addr.State)),
		strings.TrimSpace(addr.ZipCode),
	)
	h := sha256.Sum256([]byte(normalized))
	return fmt.Sprintf("%x", h)
}

// nilIfEmpty returns nil for empty strings, allowing NULL storage in Postgres.
func nilIfEmpty(s string) any {
	if s == "" {
		return nil
	}
	return s
}
