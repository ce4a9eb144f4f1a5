package credential

import (
	"context"
	"time"
)

// Store persists credentials. Implementations must make Touch an atomic
// increment per token: two concurrent validations of the same token may
// never lose a use_count bump.
type Store interface {
	Insert(ctx context.Context, cred *Credential) error
	Get(ctx context.Context, token string) (*Credential, error)
	Touch(ctx context.Context, token string, usedAt time.Time) error
	CountActive(ctx context.Context, now time.Time) (int, error)
}
