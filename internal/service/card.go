package service

import (
	"context"
	"fmt"
	"math"
	"time"

	"github.com/Dan9191/bankcards/internal/access"
	"github.com/Dan9191/bankcards/internal/models"
	"github.com/Dan9191/bankcards/internal/repository"
	"github.com/Dan9191/bankcards/internal/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
)

// NumberCipher encrypts card numbers before they reach storage
type NumberCipher interface {
	Encrypt(number string) (string, error)
	Decrypt(encrypted string) (string, error)
}

// CardService implements the card lifecycle: issue, read, status changes,
// deletion and transfers between cards.
type CardService struct {
	cards    repository.CardRepository
	users    repository.UserRepository
	cipher   NumberCipher
	log      *logrus.Logger
	generate func() (string, error)
	now      func() time.Time
	notifier Notifier
}

// CardOption customizes a CardService
type CardOption func(*CardService)

// WithNumberGenerator replaces the random card number source
func WithNumberGenerator(generate func() (string, error)) CardOption {
	return func(s *CardService) { s.generate = generate }
}

// WithClock replaces time.Now
func WithClock(now func() time.Time) CardOption {
	return func(s *CardService) { s.now = now }
}

// WithNotifier sends owner notifications after committed changes
func WithNotifier(n Notifier) CardOption {
	return func(s *CardService) { s.notifier = n }
}

// NewCardService initializes a new card service
func NewCardService(cards repository.CardRepository, users repository.UserRepository, cipher NumberCipher, log *logrus.Logger, opts ...CardOption) *CardService {
	s := &CardService{
		cards:    cards,
		users:    users,
		cipher:   cipher,
		log:      log,
		generate: utils.GenerateCardNumber,
		now:      time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

func (s *CardService) toView(card *models.Card) (models.CardView, error) {
	number, err := s.cipher.Decrypt(card.Number)
	if err != nil {
		return models.CardView{}, fmt.Errorf("card %s: %w", card.ID, err)
	}
	masked, err := utils.MaskCardNumber(number)
	if err != nil {
		return models.CardView{}, fmt.Errorf("card %s: %w", card.ID, err)
	}
	return models.CardView{
		ID:             card.ID,
		Number:         masked,
		ExpirationDate: card.ExpirationDate.Format(models.DateLayout),
		Status:         card.Status,
		Balance:        card.Balance,
		UserID:         card.UserID,
		CreatedAt:      card.CreatedAt,
		UpdatedAt:      card.UpdatedAt,
	}, nil
}

func (s *CardService) toViews(cards []models.Card) ([]models.CardView, error) {
	views := make([]models.CardView, 0, len(cards))
	for i := range cards {
		v, err := s.toView(&cards[i])
		if err != nil {
			return nil, err
		}
		views = append(views, v)
	}
	return views, nil
}

// authorized loads a card and checks that p may act on it.
// Not found is reported before access denied.
func authorized(ctx context.Context, repo repository.CardRepository, id uuid.UUID, p models.Principal) (*models.Card, error) {
	card, err := repo.FindByID(ctx, id)
	if err != nil {
		return nil, err
	}
	if !access.CanAccessCard(p, card.UserID) {
		return nil, fmt.Errorf("card %s: %w", id, models.ErrAccessDenied)
	}
	return card, nil
}

// GetByID returns a single card visible to p
func (s *CardService) GetByID(ctx context.Context, id uuid.UUID, p models.Principal) (*models.CardView, error) {
	card, err := authorized(ctx, s.cards, id, p)
	if err != nil {
		return nil, err
	}
	view, err := s.toView(card)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// ListByFilter returns a page of cards. Non-admin principals only ever see
// their own cards regardless of the owner in the filter.
func (s *CardService) ListByFilter(ctx context.Context, filter models.CardFilter, p models.Principal, page models.PageRequest) (*models.CardPage, error) {
	if !access.IsElevated(p) {
		filter = filter.WithOwner(p.ID)
	}
	page, err := repository.NormalizePage(page)
	if err != nil {
		return nil, err
	}

	cards, total, err := s.cards.FindByFilter(ctx, filter, page)
	if err != nil {
		return nil, err
	}
	views, err := s.toViews(cards)
	if err != nil {
		return nil, err
	}
	return &models.CardPage{Content: views, Metadata: models.NewPageMetadata(page, total)}, nil
}

// ListByOwner returns every card of one user
func (s *CardService) ListByOwner(ctx context.Context, ownerID uuid.UUID, p models.Principal) ([]models.CardView, error) {
	if !access.CanAccessCard(p, ownerID) {
		return nil, fmt.Errorf("cards of user %s: %w", ownerID, models.ErrAccessDenied)
	}
	cards, err := s.cards.FindAllByOwner(ctx, ownerID)
	if err != nil {
		return nil, err
	}
	return s.toViews(cards)
}

// uniqueNumber draws numbers until one is not stored yet and returns it encrypted
func (s *CardService) uniqueNumber(ctx context.Context) (string, error) {
	for {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		number, err := s.generate()
		if err != nil {
			return "", fmt.Errorf("failed to generate card number: %w", err)
		}
		if err := utils.ValidateCardNumber(number); err != nil {
			return "", err
		}
		encrypted, err := s.cipher.Encrypt(number)
		if err != nil {
			return "", err
		}
		exists, err := s.cards.ExistsByNumber(ctx, encrypted)
		if err != nil {
			return "", err
		}
		if !exists {
			return encrypted, nil
		}
		s.log.Debug("Generated card number collides with an existing card, retrying")
	}
}

// Create issues a new ACTIVE card with zero balance
func (s *CardService) Create(ctx context.Context, ownerID uuid.UUID, expirationDate time.Time) (*models.CardView, error) {
	expiration := models.DateOf(expirationDate)
	if !expiration.After(models.DateOf(s.now())) {
		return nil, fmt.Errorf("expiration date %s must be in the future: %w",
			expiration.Format(models.DateLayout), models.ErrInvalidArgument)
	}

	owner, err := s.users.FindUserByID(ctx, ownerID)
	if err != nil {
		return nil, err
	}

	number, err := s.uniqueNumber(ctx)
	if err != nil {
		return nil, err
	}

	card := &models.Card{
		ID:             uuid.New(),
		Number:         number,
		ExpirationDate: expiration,
		Status:         models.CardStatusActive,
		Balance:        0,
		UserID:         owner.ID,
	}
	if err := s.cards.Create(ctx, card); err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{"card_id": card.ID, "user_id": owner.ID}).Info("Card created")
	view, err := s.toView(card)
	if err != nil {
		return nil, err
	}
	return &view, nil
}

// UpdateStatus sets the status of a card. Setting the current status again is
// allowed; leaving EXPIRED is not.
func (s *CardService) UpdateStatus(ctx context.Context, id uuid.UUID, status models.CardStatus, p models.Principal) (*models.CardView, error) {
	view, _, err := s.updateStatus(ctx, id, status, p)
	return view, err
}

// updateStatus changes the status under the card's row lock so a concurrent
// transfer or expiry sweep cannot be overwritten. It also returns the status
// the card had before.
func (s *CardService) updateStatus(ctx context.Context, id uuid.UUID, status models.CardStatus, p models.Principal) (*models.CardView, models.CardStatus, error) {
	if !status.Valid() {
		return nil, "", fmt.Errorf("unknown card status %q: %w", status, models.ErrInvalidArgument)
	}

	var card *models.Card
	var previous models.CardStatus
	err := s.cards.WithinTx(ctx, func(repo repository.CardRepository) error {
		if err := repo.LockByIDs(ctx, id); err != nil {
			return err
		}
		var err error
		if card, err = authorized(ctx, repo, id, p); err != nil {
			return err
		}
		previous = card.Status
		if previous == models.CardStatusExpired && status != models.CardStatusExpired {
			return fmt.Errorf("card %s: %w", id, models.ErrCardExpired)
		}
		card.Status = status
		return repo.Save(ctx, card)
	})
	if err != nil {
		return nil, "", err
	}

	s.log.WithFields(logrus.Fields{"card_id": id, "status": status}).Info("Card status updated")
	view, err := s.toView(card)
	if err != nil {
		return nil, "", err
	}
	return &view, previous, nil
}

// BlockRequest lets an owner block their own card. The owner is notified only
// when the card was not blocked already.
func (s *CardService) BlockRequest(ctx context.Context, id uuid.UUID, p models.Principal) (*models.CardView, error) {
	view, previous, err := s.updateStatus(ctx, id, models.CardStatusBlocked, p)
	if err != nil {
		return nil, err
	}
	if previous != models.CardStatusBlocked {
		s.notifyOwner(ctx, view.UserID, func(owner *models.User) error {
			return s.notifier.CardBlocked(ctx, owner, *view)
		})
	}
	return view, nil
}

// Transfer moves money between two ACTIVE cards visible to p. Both cards are
// locked for the duration and either both balances change or neither does.
func (s *CardService) Transfer(ctx context.Context, t models.Transfer, p models.Principal) ([]models.CardView, error) {
	if t.Amount <= 0 {
		return nil, fmt.Errorf("transfer amount must be positive: %w", models.ErrAccessDenied)
	}

	var from, to *models.Card
	err := s.cards.WithinTx(ctx, func(repo repository.CardRepository) error {
		if err := repo.LockByIDs(ctx, t.FromCard, t.ToCard); err != nil {
			return err
		}

		var err error
		if from, err = authorized(ctx, repo, t.FromCard, p); err != nil {
			return err
		}
		if t.FromCard == t.ToCard {
			return fmt.Errorf("source and destination card are the same: %w", models.ErrInvalidArgument)
		}
		if from.Balance < t.Amount {
			return fmt.Errorf("card %s: %w", from.ID, models.ErrInsufficientBalance)
		}
		if from.Status != models.CardStatusActive {
			return fmt.Errorf("card %s: %w", from.ID, models.ErrCardNotActive)
		}
		from.Balance -= t.Amount

		if to, err = authorized(ctx, repo, t.ToCard, p); err != nil {
			return err
		}
		if to.Status != models.CardStatusActive {
			return fmt.Errorf("card %s: %w", to.ID, models.ErrCardNotActive)
		}
		if to.Balance > math.MaxInt64-t.Amount {
			return fmt.Errorf("card %s balance overflow: %w", to.ID, models.ErrInvalidArgument)
		}
		to.Balance += t.Amount

		return repo.SaveAll(ctx, []*models.Card{from, to})
	})
	if err != nil {
		return nil, err
	}

	s.log.WithFields(logrus.Fields{
		"from_card": from.ID,
		"to_card":   to.ID,
		"amount":    t.Amount,
	}).Info("Transfer completed")

	views, err := s.toViews([]models.Card{*from, *to})
	if err != nil {
		return nil, err
	}
	s.notifyOwner(ctx, from.UserID, func(owner *models.User) error {
		return s.notifier.TransferCompleted(ctx, owner, views[0], views[1], t.Amount)
	})
	return views, nil
}

// DeleteByID removes a card permanently
func (s *CardService) DeleteByID(ctx context.Context, id uuid.UUID, p models.Principal) error {
	if _, err := authorized(ctx, s.cards, id, p); err != nil {
		return err
	}
	if err := s.cards.Delete(ctx, id); err != nil {
		return err
	}
	s.log.WithField("card_id", id).Info("Card deleted")
	return nil
}

// ListStatuses returns all card statuses
func (s *CardService) ListStatuses() []models.CardStatus {
	return models.CardStatuses()
}

// NotifyExpired tells the owner of a card that it has expired
func (s *CardService) NotifyExpired(ctx context.Context, id uuid.UUID) error {
	if s.notifier == nil {
		return nil
	}
	card, err := s.cards.FindByID(ctx, id)
	if err != nil {
		return err
	}
	view, err := s.toView(card)
	if err != nil {
		return err
	}
	s.notifyOwner(ctx, card.UserID, func(owner *models.User) error {
		return s.notifier.CardExpired(ctx, owner, view)
	})
	return nil
}

// notifyOwner runs after the change is committed, so failures are only logged
func (s *CardService) notifyOwner(ctx context.Context, ownerID uuid.UUID, send func(owner *models.User) error) {
	if s.notifier == nil {
		return
	}
	owner, err := s.users.FindUserByID(ctx, ownerID)
	if err == nil {
		err = send(owner)
	}
	if err != nil {
		s.log.WithError(err).WithField("user_id", ownerID).Warn("Failed to notify card owner")
	}
}
