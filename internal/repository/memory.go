package repository

import (
	"cmp"
	"context"
	"fmt"
	"maps"
	"slices"
	"sync"
	"time"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/google/uuid"
)

// MemoryRepository keeps cards and users in process memory.
// It backs tests and REPO_BACKEND=mem development runs.
type MemoryRepository struct {
	mu    *sync.Mutex
	cards map[uuid.UUID]models.Card
	users map[uuid.UUID]models.User
	now   func() time.Time
	inTx  bool
}

// NewMemoryRepository creates an empty in-memory repository
func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{
		mu:    &sync.Mutex{},
		cards: make(map[uuid.UUID]models.Card),
		users: make(map[uuid.UUID]models.User),
		now:   time.Now,
	}
}

// SetClock replaces the timestamp source
func (r *MemoryRepository) SetClock(now func() time.Time) {
	r.now = now
}

// AddUser stores a user
func (r *MemoryRepository) AddUser(user models.User) {
	r.lock()
	defer r.unlock()
	r.users[user.ID] = user
}

// PutCard stores a card as-is, bypassing timestamp assignment
func (r *MemoryRepository) PutCard(card models.Card) {
	r.lock()
	defer r.unlock()
	r.cards[card.ID] = card
}

// the transactional view already holds the mutex
func (r *MemoryRepository) lock() {
	if !r.inTx {
		r.mu.Lock()
	}
}

func (r *MemoryRepository) unlock() {
	if !r.inTx {
		r.mu.Unlock()
	}
}

func (r *MemoryRepository) FindByID(_ context.Context, id uuid.UUID) (*models.Card, error) {
	r.lock()
	defer r.unlock()
	card, ok := r.cards[id]
	if !ok {
		return nil, fmt.Errorf("card %s: %w", id, models.ErrNotFound)
	}
	return &card, nil
}

func (r *MemoryRepository) ExistsByNumber(_ context.Context, number string) (bool, error) {
	r.lock()
	defer r.unlock()
	for _, c := range r.cards {
		if c.Number == number {
			return true, nil
		}
	}
	return false, nil
}

func (r *MemoryRepository) FindAllByOwner(_ context.Context, ownerID uuid.UUID) ([]models.Card, error) {
	r.lock()
	defer r.unlock()
	cards := make([]models.Card, 0)
	for _, c := range r.cards {
		if c.UserID == ownerID {
			cards = append(cards, c)
		}
	}
	slices.SortFunc(cards, func(a, b models.Card) int {
		return cmp.Or(a.CreatedAt.Compare(b.CreatedAt), cmp.Compare(a.ID.String(), b.ID.String()))
	})
	return cards, nil
}

func matches(c models.Card, f models.CardFilter) bool {
	switch {
	case f.ExpirationDateFrom != nil && c.ExpirationDate.Before(*f.ExpirationDateFrom):
	case f.ExpirationDateTo != nil && c.ExpirationDate.After(*f.ExpirationDateTo):
	case f.Status != nil && c.Status != *f.Status:
	case f.MinBalance != nil && c.Balance < *f.MinBalance:
	case f.MaxBalance != nil && c.Balance > *f.MaxBalance:
	case f.UserID != nil && c.UserID != *f.UserID:
	case f.CreatedFrom != nil && c.CreatedAt.Before(*f.CreatedFrom):
	case f.CreatedTo != nil && c.CreatedAt.After(*f.CreatedTo):
	case f.UpdatedFrom != nil && c.UpdatedAt.Before(*f.UpdatedFrom):
	case f.UpdatedTo != nil && c.UpdatedAt.After(*f.UpdatedTo):
	default:
		return true
	}
	return false
}

func compareField(a, b models.Card, field string) int {
	switch field {
	case "id":
		return cmp.Compare(a.ID.String(), b.ID.String())
	case "expirationDate":
		return a.ExpirationDate.Compare(b.ExpirationDate)
	case "status":
		return cmp.Compare(a.Status, b.Status)
	case "balance":
		return cmp.Compare(a.Balance, b.Balance)
	case "userId":
		return cmp.Compare(a.UserID.String(), b.UserID.String())
	case "createdAt":
		return a.CreatedAt.Compare(b.CreatedAt)
	case "updatedAt":
		return a.UpdatedAt.Compare(b.UpdatedAt)
	}
	return 0
}

func (r *MemoryRepository) FindByFilter(_ context.Context, filter models.CardFilter, page models.PageRequest) ([]models.Card, int64, error) {
	page, err := NormalizePage(page)
	if err != nil {
		return nil, 0, err
	}

	r.lock()
	matched := make([]models.Card, 0)
	for _, c := range r.cards {
		if matches(c, filter) {
			matched = append(matched, c)
		}
	}
	r.unlock()

	// map order is random; id keeps unsorted pages deterministic
	slices.SortStableFunc(matched, func(a, b models.Card) int {
		for _, o := range page.Sort {
			c := compareField(a, b, o.Field)
			if o.Direction == models.SortDesc {
				c = -c
			}
			if c != 0 {
				return c
			}
		}
		return compareField(a, b, "id")
	})

	total := int64(len(matched))
	start := min(page.Offset(), len(matched))
	end := min(start+page.Size, len(matched))
	return matched[start:end], total, nil
}

func (r *MemoryRepository) Create(_ context.Context, card *models.Card) error {
	r.lock()
	defer r.unlock()
	if _, ok := r.cards[card.ID]; ok {
		return fmt.Errorf("card %s already exists", card.ID)
	}
	now := r.now()
	card.CreatedAt = now
	card.UpdatedAt = now
	r.cards[card.ID] = *card
	return nil
}

func (r *MemoryRepository) save(card *models.Card) error {
	stored, ok := r.cards[card.ID]
	if !ok {
		return fmt.Errorf("card %s: %w", card.ID, models.ErrNotFound)
	}
	if card.Balance < 0 {
		return fmt.Errorf("card %s: negative balance", card.ID)
	}
	stored.Status = card.Status
	stored.Balance = card.Balance
	if now := r.now(); now.After(stored.UpdatedAt) {
		stored.UpdatedAt = now
	}
	r.cards[card.ID] = stored
	card.UpdatedAt = stored.UpdatedAt
	return nil
}

func (r *MemoryRepository) Save(_ context.Context, card *models.Card) error {
	r.lock()
	defer r.unlock()
	return r.save(card)
}

func (r *MemoryRepository) SaveAll(ctx context.Context, cards []*models.Card) error {
	return r.WithinTx(ctx, func(repo CardRepository) error {
		for _, card := range cards {
			if err := repo.Save(ctx, card); err != nil {
				return err
			}
		}
		return nil
	})
}

func (r *MemoryRepository) Delete(_ context.Context, id uuid.UUID) error {
	r.lock()
	defer r.unlock()
	if _, ok := r.cards[id]; !ok {
		return fmt.Errorf("card %s: %w", id, models.ErrNotFound)
	}
	delete(r.cards, id)
	return nil
}

func (r *MemoryRepository) ForEachIDExpiredBefore(_ context.Context, date time.Time, excluding models.CardStatus, fn func(uuid.UUID)) error {
	r.lock()
	ids := make([]uuid.UUID, 0)
	for _, c := range r.cards {
		if c.ExpirationDate.Before(date) && c.Status != excluding {
			ids = append(ids, c.ID)
		}
	}
	r.unlock()

	for _, id := range ids {
		fn(id)
	}
	return nil
}

func (r *MemoryRepository) UpdateStatusByID(_ context.Context, id uuid.UUID, status models.CardStatus) error {
	r.lock()
	defer r.unlock()
	card, ok := r.cards[id]
	if !ok {
		return fmt.Errorf("card %s: %w", id, models.ErrNotFound)
	}
	card.Status = status
	return r.save(&card)
}

// LockByIDs is a no-op: a transactional view already holds the repository mutex
func (r *MemoryRepository) LockByIDs(_ context.Context, _ ...uuid.UUID) error {
	return nil
}

// WithinTx serializes fn against all other access and restores the previous
// card set if fn fails.
func (r *MemoryRepository) WithinTx(_ context.Context, fn func(repo CardRepository) error) error {
	if r.inTx {
		return fn(r)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	snapshot := maps.Clone(r.cards)
	tx := &MemoryRepository{mu: r.mu, cards: r.cards, users: r.users, now: r.now, inTx: true}
	if err := fn(tx); err != nil {
		clear(r.cards)
		maps.Copy(r.cards, snapshot)
		return err
	}
	return nil
}

func (r *MemoryRepository) FindUserByID(_ context.Context, id uuid.UUID) (*models.User, error) {
	r.lock()
	defer r.unlock()
	user, ok := r.users[id]
	if !ok {
		return nil, fmt.Errorf("user: %w", models.ErrNotFound)
	}
	return &user, nil
}

func (r *MemoryRepository) FindUserByUsername(_ context.Context, username string) (*models.User, error) {
	r.lock()
	defer r.unlock()
	for _, u := range r.users {
		if u.Username == username {
			return &u, nil
		}
	}
	return nil, fmt.Errorf("user: %w", models.ErrNotFound)
}

func (r *MemoryRepository) Ping(context.Context) error {
	return nil
}
