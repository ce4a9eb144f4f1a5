package credential

import (
	"errors"
	"time"
)

// Credential is one issued API key and its usage bookkeeping. Records are
// never deleted; an expired credential simply stops validating.
type Credential struct {
	Token        string     `json:"token"`
	OwnerID      string     `json:"owner_id"`
	Capabilities []string   `json:"capabilities"`
	IssuedAt     time.Time  `json:"issued_at"`
	ExpiresAt    time.Time  `json:"expires_at"`
	LastUsedAt   *time.Time `json:"last_used_at,omitempty"`
	UseCount     uint64     `json:"use_count"`
}

// HasCapability reports whether the credential carries the named capability.
func (c *Credential) HasCapability(key string) bool {
	for _, cap := range c.Capabilities {
		if cap == key {
			return true
		}
	}
	return false
}

// Identity is the successful validation result handed to callers.
type Identity struct {
	OwnerID      string   `json:"owner_id"`
	Capabilities []string `json:"capabilities"`
}

var (
	ErrInvalidCredential      = errors.New("credential: invalid credential")
	ErrExpiredCredential      = errors.New("credential: credential expired")
	ErrInsufficientCapability = errors.New("credential: insufficient capability")
)
