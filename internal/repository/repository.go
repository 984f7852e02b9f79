package repository

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/google/uuid"
)

// CardRepository persists cards. Card numbers are passed in already encrypted.
type CardRepository interface {
	FindByID(ctx context.Context, id uuid.UUID) (*models.Card, error)
	ExistsByNumber(ctx context.Context, number string) (bool, error)
	FindAllByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Card, error)
	// FindByFilter returns one page of matching cards and the total number of matches.
	FindByFilter(ctx context.Context, filter models.CardFilter, page models.PageRequest) ([]models.Card, int64, error)
	Create(ctx context.Context, card *models.Card) error
	Save(ctx context.Context, card *models.Card) error
	// SaveAll writes every card in one unit of work.
	SaveAll(ctx context.Context, cards []*models.Card) error
	Delete(ctx context.Context, id uuid.UUID) error
	// ForEachIDExpiredBefore streams ids of cards expiring strictly before date
	// whose status differs from excluding. fn runs while the scan is open.
	ForEachIDExpiredBefore(ctx context.Context, date time.Time, excluding models.CardStatus, fn func(uuid.UUID)) error
	// UpdateStatusByID sets a status in its own short unit of work.
	UpdateStatusByID(ctx context.Context, id uuid.UUID, status models.CardStatus) error
	// LockByIDs takes row locks on the given cards until the enclosing WithinTx ends.
	LockByIDs(ctx context.Context, ids ...uuid.UUID) error
	// WithinTx runs fn against a repository bound to a single transaction.
	WithinTx(ctx context.Context, fn func(repo CardRepository) error) error
}

// UserRepository looks users up for ownership and authentication
type UserRepository interface {
	FindUserByID(ctx context.Context, id uuid.UUID) (*models.User, error)
	FindUserByUsername(ctx context.Context, username string) (*models.User, error)
}

// DBTX is satisfied by both *sql.DB and *sql.Tx
type DBTX interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Repository provides database operations
type Repository struct {
	db   *sql.DB
	q    DBTX
	inTx bool
}

// NewRepository initializes a new repository
func NewRepository(db *sql.DB) *Repository {
	return &Repository{db: db, q: db}
}

// Ping checks the database connection
func (r *Repository) Ping(ctx context.Context) error {
	return r.db.PingContext(ctx)
}

// withTx begins a transaction, runs fn and commits, rolling back on error or panic
func withTx(ctx context.Context, db *sql.DB, opts *sql.TxOptions, fn func(tx *sql.Tx) error) (err error) {
	tx, err := db.BeginTx(ctx, opts)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}

	defer func() {
		if p := recover(); p != nil {
			_ = tx.Rollback()
			panic(p)
		}
		if err != nil {
			_ = tx.Rollback()
			return
		}
		if cerr := tx.Commit(); cerr != nil {
			err = fmt.Errorf("failed to commit transaction: %w", cerr)
		}
	}()

	return fn(tx)
}

// WithinTx runs fn in a transaction. Nested calls reuse the outer transaction.
func (r *Repository) WithinTx(ctx context.Context, fn func(repo CardRepository) error) error {
	if r.inTx {
		return fn(r)
	}
	return withTx(ctx, r.db, nil, func(tx *sql.Tx) error {
		return fn(&Repository{db: r.db, q: tx, inTx: true})
	})
}
