// Package consent implements the data collection token: a revocable
// capability that gates payload reads and network egress.
package consent

import (
	"sync/atomic"
	"time"

	"github.com/google/uuid"
)

// Token is a data collection token. Copies of the pointer share revocation
// state, so revoking one reference invalidates every holder immediately.
type Token struct {
	id       string
	issuedAt time.Time
	revoked  atomic.Bool
}

func newToken() *Token {
	return &Token{
		id:       uuid.NewString(),
		issuedAt: time.Now().UTC(),
	}
}

// ID returns the collection session identifier.
func (t *Token) ID() string {
	if t == nil {
		return ""
	}
	return t.id
}

// IssuedAt returns when the token was minted.
func (t *Token) IssuedAt() time.Time {
	return t.issuedAt
}

// IsValid reports whether the token is still usable.
func (t *Token) IsValid() bool {
	return t != nil && !t.revoked.Load()
}

// revoke marks the token invalid and reports whether this call did it.
func (t *Token) revoke() bool {
	return t.revoked.CompareAndSwap(false, true)
}
