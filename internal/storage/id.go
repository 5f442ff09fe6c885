package storage

import (
	"crypto/rand"
	"crypto/sha1" //nolint:gosec
	"fmt"
)

const (
	// ShortIDLen is the id length shown in listings.
	ShortIDLen = 7
	// MinIDLen is the shortest prefix matched against session ids.
	MinIDLen = 4
)

// NewSessionID returns a random 40 character hex id.
func NewSessionID() string {
	b := make([]byte, 64)
	_, _ = rand.Read(b)
	//nolint:gosec // identifier, not a security boundary.
	return fmt.Sprintf("%x", sha1.Sum(b))
}

// ShortID truncates id for display.
func ShortID(id string) string {
	if len(id) > ShortIDLen {
		return id[:ShortIDLen]
	}
	return id
}
