package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/google/uuid"
	"github.com/lib/pq"
)

type rowScanner interface {
	Scan(dest ...any) error
}

func scanCard(row rowScanner) (*models.Card, error) {
	card := &models.Card{}
	var status string
	err := row.Scan(&card.ID, &card.Number, &card.ExpirationDate, &status, &card.Balance,
		&card.UserID, &card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return nil, err
	}
	card.Status = models.CardStatus(status)
	return card, nil
}

func (r *Repository) queryCards(ctx context.Context, query string, args ...any) ([]models.Card, error) {
	rows, err := r.q.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query cards: %w", err)
	}
	defer rows.Close()

	cards := make([]models.Card, 0)
	for rows.Next() {
		card, err := scanCard(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan card: %w", err)
		}
		cards = append(cards, *card)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate cards: %w", err)
	}
	return cards, nil
}

// FindByID retrieves a card by id
func (r *Repository) FindByID(ctx context.Context, id uuid.UUID) (*models.Card, error) {
	query := `
		SELECT ` + cardColumns + `
		FROM cards
		WHERE id = $1`
	card, err := scanCard(r.q.QueryRowContext(ctx, query, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("card %s: %w", id, models.ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find card: %w", err)
	}
	return card, nil
}

// ExistsByNumber reports whether an encrypted card number is already stored
func (r *Repository) ExistsByNumber(ctx context.Context, number string) (bool, error) {
	var exists bool
	err := r.q.QueryRowContext(ctx, `SELECT EXISTS (SELECT 1 FROM cards WHERE number = $1)`, number).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("failed to check card number: %w", err)
	}
	return exists, nil
}

// FindAllByOwner retrieves every card of a user
func (r *Repository) FindAllByOwner(ctx context.Context, ownerID uuid.UUID) ([]models.Card, error) {
	query := `
		SELECT ` + cardColumns + `
		FROM cards
		WHERE user_id = $1
		ORDER BY created_at, id`
	return r.queryCards(ctx, query, ownerID)
}

// FindByFilter retrieves a page of cards matching filter and the total match count
func (r *Repository) FindByFilter(ctx context.Context, filter models.CardFilter, page models.PageRequest) ([]models.Card, int64, error) {
	q, err := BuildCardQuery(filter, page)
	if err != nil {
		return nil, 0, err
	}

	var total int64
	if err := r.q.QueryRowContext(ctx, q.Count, q.CountArgs...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("failed to count cards: %w", err)
	}

	cards, err := r.queryCards(ctx, q.Select, q.SelectArgs...)
	if err != nil {
		return nil, 0, err
	}
	return cards, total, nil
}

// Create inserts a new card and fills its timestamps
func (r *Repository) Create(ctx context.Context, card *models.Card) error {
	query := `
		INSERT INTO cards (id, number, expiration_date, status, balance, user_id, created_at, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, CURRENT_TIMESTAMP, CURRENT_TIMESTAMP)
		RETURNING created_at, updated_at`
	err := r.q.QueryRowContext(ctx, query, card.ID, card.Number, card.ExpirationDate, string(card.Status),
		card.Balance, card.UserID).Scan(&card.CreatedAt, &card.UpdatedAt)
	if err != nil {
		return fmt.Errorf("failed to create card: %w", err)
	}
	return nil
}

// Save writes the mutable fields of a card: status and balance
func (r *Repository) Save(ctx context.Context, card *models.Card) error {
	query := `
		UPDATE cards
		SET status = $2, balance = $3, updated_at = GREATEST(CURRENT_TIMESTAMP, updated_at)
		WHERE id = $1
		RETURNING updated_at`
	err := r.q.QueryRowContext(ctx, query, card.ID, string(card.Status), card.Balance).Scan(&card.UpdatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("card %s: %w", card.ID, models.ErrNotFound)
	}
	if err != nil {
		return fmt.Errorf("failed to save card: %w", err)
	}
	return nil
}

// SaveAll saves cards in one transaction
func (r *Repository) SaveAll(ctx context.Context, cards []*models.Card) error {
	return r.WithinTx(ctx, func(repo CardRepository) error {
		for _, card := range cards {
			if err := repo.Save(ctx, card); err != nil {
				return err
			}
		}
		return nil
	})
}

// Delete removes a card permanently
func (r *Repository) Delete(ctx context.Context, id uuid.UUID) error {
	res, err := r.q.ExecContext(ctx, `DELETE FROM cards WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete card: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("card %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// ForEachIDExpiredBefore scans ids in a read-only transaction, row by row.
// Updates issued from fn go through the pool on their own connections.
func (r *Repository) ForEachIDExpiredBefore(ctx context.Context, date time.Time, excluding models.CardStatus, fn func(uuid.UUID)) error {
	query := `
		SELECT id
		FROM cards
		WHERE expiration_date < $1 AND status <> $2`
	return withTx(ctx, r.db, &sql.TxOptions{ReadOnly: true}, func(tx *sql.Tx) error {
		rows, err := tx.QueryContext(ctx, query, date, string(excluding))
		if err != nil {
			return fmt.Errorf("failed to query expired cards: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var id uuid.UUID
			if err := rows.Scan(&id); err != nil {
				return fmt.Errorf("failed to scan card id: %w", err)
			}
			fn(id)
		}
		if err := rows.Err(); err != nil {
			return fmt.Errorf("failed to iterate expired cards: %w", err)
		}
		return nil
	})
}

// UpdateStatusByID sets the status of one card outside any enclosing transaction
func (r *Repository) UpdateStatusByID(ctx context.Context, id uuid.UUID, status models.CardStatus) error {
	query := `
		UPDATE cards
		SET status = $2, updated_at = GREATEST(CURRENT_TIMESTAMP, updated_at)
		WHERE id = $1`
	res, err := r.db.ExecContext(ctx, query, id, string(status))
	if err != nil {
		return fmt.Errorf("failed to update card status: %w", err)
	}
	if n, err := res.RowsAffected(); err == nil && n == 0 {
		return fmt.Errorf("card %s: %w", id, models.ErrNotFound)
	}
	return nil
}

// LockByIDs locks card rows in id order so concurrent transfers over the same
// pair always acquire locks in the same sequence.
func (r *Repository) LockByIDs(ctx context.Context, ids ...uuid.UUID) error {
	if !r.inTx {
		return fmt.Errorf("row locks require a transaction")
	}
	keys := make([]string, 0, len(ids))
	for _, id := range ids {
		keys = append(keys, id.String())
	}
	slices.Sort(keys)

	query := `
		SELECT id
		FROM cards
		WHERE id = ANY($1::uuid[])
		ORDER BY id
		FOR UPDATE`
	rows, err := r.q.QueryContext(ctx, query, pq.Array(keys))
	if err != nil {
		return fmt.Errorf("failed to lock cards: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
	}
	return rows.Err()
}
