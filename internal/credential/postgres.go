package credential

import (
	"context"
	"crypto/sha256"
	"database/sql"
	"encoding/hex"
	"encoding/json"
	"time"
)

var _ Store = (*PGStore)(nil)

// PGStore implements Store using PostgreSQL. Only a SHA-256 digest of the
// token is persisted; the raw token exists nowhere but in the caller's
// hands.
//
// Schema:
//
//	create table mesh_credentials (
//	    token_digest text primary key,
//	    owner_id     text not null,
//	    capabilities jsonb not null,
//	    issued_at    timestamptz not null,
//	    expires_at   timestamptz not null,
//	    last_used_at timestamptz,
//	    use_count    bigint not null default 0
//	);
type PGStore struct {
	db *sql.DB
}

func NewPGStore(db *sql.DB) *PGStore {
	return &PGStore{db: db}
}

func (s *PGStore) Insert(ctx context.Context, cred *Credential) error {
	caps, err := json.Marshal(cred.Capabilities)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`insert into mesh_credentials(token_digest, owner_id, capabilities, issued_at, expires_at, use_count)
		 values($1,$2,$3,$4,$5,0)`,
		digest(cred.Token), cred.OwnerID, caps, cred.IssuedAt, cred.ExpiresAt,
	)
	return err
}

func (s *PGStore) Get(ctx context.Context, token string) (*Credential, error) {
	row := s.db.QueryRowContext(ctx,
		`select owner_id, capabilities, issued_at, expires_at, last_used_at, use_count
		 from mesh_credentials where token_digest=$1`, digest(token))
	var (
		cred     Credential
		caps     []byte
		lastUsed sql.NullTime
	)
	if err := row.Scan(&cred.OwnerID, &caps, &cred.IssuedAt, &cred.ExpiresAt, &lastUsed, &cred.UseCount); err != nil {
		if err == sql.ErrNoRows {
			return nil, ErrInvalidCredential
		}
		return nil, err
	}
	cred.Token = token
	if err := json.Unmarshal(caps, &cred.Capabilities); err != nil {
		return nil, err
	}
	if lastUsed.Valid {
		used := lastUsed.Time
		cred.LastUsedAt = &used
	}
	return &cred, nil
}

func (s *PGStore) Touch(ctx context.Context, token string, usedAt time.Time) error {
	res, err := s.db.ExecContext(ctx,
		`update mesh_credentials set last_used_at=$2, use_count=use_count+1 where token_digest=$1`,
		digest(token), usedAt,
	)
	if err != nil {
		return err
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return ErrInvalidCredential
	}
	return nil
}

func (s *PGStore) CountActive(ctx context.Context, now time.Time) (int, error) {
	row := s.db.QueryRowContext(ctx,
		`select count(*) from mesh_credentials where expires_at > $1`, now)
	var n int
	if err := row.Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

func digest(token string) string {
	sum := sha256.Sum256([]byte(token))
	return hex.EncodeToString(sum[:])
}
