package credential

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/DATA-DOG/go-sqlmock"
)

func TestPGStoreInsertAndGet(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	store := NewPGStore(db)
	ctx := context.Background()
	now := time.Now().UTC().Truncate(time.Second)
	cred := &Credential{
		Token:        "kp_test-token",
		OwnerID:      "user-1",
		Capabilities: []string{"basic_access"},
		IssuedAt:     now,
		ExpiresAt:    now.Add(time.Hour),
	}

	mock.ExpectExec("insert into mesh_credentials").
		WithArgs(digest(cred.Token), "user-1", sqlmock.AnyArg(), now, now.Add(time.Hour)).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Insert(ctx, cred); err != nil {
		t.Fatalf("Insert: %v", err)
	}

	rows := sqlmock.NewRows([]string{"owner_id", "capabilities", "issued_at", "expires_at", "last_used_at", "use_count"}).
		AddRow("user-1", []byte(`["basic_access"]`), now, now.Add(time.Hour), nil, 0)
	mock.ExpectQuery("select owner_id, capabilities, issued_at, expires_at, last_used_at, use_count").
		WithArgs(digest(cred.Token)).
		WillReturnRows(rows)

	got, err := store.Get(ctx, cred.Token)
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if got.OwnerID != "user-1" || got.UseCount != 0 || got.LastUsedAt != nil {
		t.Fatalf("unexpected credential: %#v", got)
	}
	if len(got.Capabilities) != 1 || got.Capabilities[0] != "basic_access" {
		t.Fatalf("capabilities not decoded: %v", got.Capabilities)
	}

	if err := mock.ExpectationsWereMet(); err != nil {
		t.Fatalf("unmet expectations: %v", err)
	}
}

func TestPGStoreGetUnknownToken(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	mock.ExpectQuery("select owner_id, capabilities").
		WithArgs(digest("kp_missing")).
		WillReturnRows(sqlmock.NewRows([]string{"owner_id"}))

	store := NewPGStore(db)
	if _, err := store.Get(context.Background(), "kp_missing"); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestPGStoreTouch(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	store := NewPGStore(db)
	usedAt := time.Now().UTC()

	mock.ExpectExec("update mesh_credentials set last_used_at").
		WithArgs(digest("kp_tok"), usedAt).
		WillReturnResult(sqlmock.NewResult(0, 1))
	if err := store.Touch(context.Background(), "kp_tok", usedAt); err != nil {
		t.Fatalf("Touch: %v", err)
	}

	mock.ExpectExec("update mesh_credentials set last_used_at").
		WithArgs(digest("kp_gone"), usedAt).
		WillReturnResult(sqlmock.NewResult(0, 0))
	if err := store.Touch(context.Background(), "kp_gone", usedAt); !errors.Is(err, ErrInvalidCredential) {
		t.Fatalf("expected ErrInvalidCredential, got %v", err)
	}
}

func TestPGStoreCountActive(t *testing.T) {
	db, mock, err := sqlmock.New()
	if err != nil {
		t.Fatalf("sqlmock.New: %v", err)
	}
	defer db.Close()

	now := time.Now().UTC()
	mock.ExpectQuery("select count").
		WithArgs(now).
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(3))

	store := NewPGStore(db)
	n, err := store.CountActive(context.Background(), now)
	if err != nil || n != 3 {
		t.Fatalf("expected 3, got %d (%v)", n, err)
	}
}
