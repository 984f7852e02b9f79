package service

import (
	"bytes"
	"context"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/Dan9191/bankcards/internal/repository"
	"github.com/Dan9191/bankcards/internal/utils"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

var testNow = time.Date(2026, 10, 16, 9, 30, 0, 0, time.UTC)

type MockNotifier struct {
	mock.Mock
}

func (m *MockNotifier) CardBlocked(ctx context.Context, owner *models.User, card models.CardView) error {
	return m.Called(ctx, owner, card).Error(0)
}

func (m *MockNotifier) CardExpired(ctx context.Context, owner *models.User, card models.CardView) error {
	return m.Called(ctx, owner, card).Error(0)
}

func (m *MockNotifier) TransferCompleted(ctx context.Context, owner *models.User, from, to models.CardView, amount int64) error {
	return m.Called(ctx, owner, from, to, amount).Error(0)
}

type fixture struct {
	repo   *repository.MemoryRepository
	cipher *utils.CardCipher
	svc    *CardService
	admin  models.Principal
	alice  models.Principal
	bob    models.Principal
}

func testLogger() *logrus.Logger {
	log := logrus.New()
	log.SetOutput(io.Discard)
	return log
}

func newFixture(t *testing.T, opts ...CardOption) *fixture {
	t.Helper()
	cipher, err := utils.NewCardCipher(bytes.Repeat([]byte{7}, 32))
	require.NoError(t, err)

	repo := repository.NewMemoryRepository()
	repo.SetClock(func() time.Time { return testNow })

	f := &fixture{repo: repo, cipher: cipher}
	for _, u := range []struct {
		p     *models.Principal
		name  string
		roles []models.Role
	}{
		{&f.admin, "admin", []models.Role{models.RoleAdmin}},
		{&f.alice, "alice", []models.Role{models.RoleUser}},
		{&f.bob, "bob", []models.Role{models.RoleUser}},
	} {
		user := models.User{ID: uuid.New(), Username: u.name, Email: u.name + "@example.com", Roles: u.roles}
		repo.AddUser(user)
		*u.p = user.Principal()
	}

	opts = append([]CardOption{WithClock(func() time.Time { return testNow })}, opts...)
	f.svc = NewCardService(repo, repo, cipher, testLogger(), opts...)
	return f
}

// addCard stores a card for owner holding the given number in plaintext
func (f *fixture) addCard(t *testing.T, owner uuid.UUID, number string, status models.CardStatus, balance int64) models.Card {
	t.Helper()
	enc, err := f.cipher.Encrypt(number)
	require.NoError(t, err)
	c := models.Card{
		ID:             uuid.New(),
		Number:         enc,
		ExpirationDate: time.Date(2030, 1, 31, 0, 0, 0, 0, time.UTC),
		Status:         status,
		Balance:        balance,
		UserID:         owner,
		CreatedAt:      testNow,
		UpdatedAt:      testNow,
	}
	f.repo.PutCard(c)
	return c
}

func (f *fixture) balance(t *testing.T, id uuid.UUID) int64 {
	t.Helper()
	c, err := f.repo.FindByID(context.Background(), id)
	require.NoError(t, err)
	return c.Balance
}

func TestGetByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.addCard(t, f.alice.ID, "4000001234567899", models.CardStatusActive, 50)

	t.Run("owner sees masked number", func(t *testing.T) {
		view, err := f.svc.GetByID(ctx, card.ID, f.alice)
		require.NoError(t, err)
		assert.Equal(t, "**** **** **** 7899", view.Number)
		assert.Equal(t, "2030-01-31", view.ExpirationDate)
		assert.Equal(t, int64(50), view.Balance)
	})

	t.Run("admin sees any card", func(t *testing.T) {
		_, err := f.svc.GetByID(ctx, card.ID, f.admin)
		assert.NoError(t, err)
	})

	t.Run("other user is denied", func(t *testing.T) {
		_, err := f.svc.GetByID(ctx, card.ID, f.bob)
		assert.ErrorIs(t, err, models.ErrAccessDenied)
	})

	t.Run("missing card is not found even for strangers", func(t *testing.T) {
		_, err := f.svc.GetByID(ctx, uuid.New(), f.bob)
		assert.ErrorIs(t, err, models.ErrNotFound)
	})
}

func TestListByFilter_OwnerOverride(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCard(t, f.alice.ID, "4000000000000001", models.CardStatusActive, 10)
	f.addCard(t, f.alice.ID, "4000000000000002", models.CardStatusBlocked, 20)
	f.addCard(t, f.bob.ID, "4000000000000003", models.CardStatusActive, 30)

	page, err := f.svc.ListByFilter(ctx, models.CardFilter{UserID: &f.bob.ID}, f.alice, models.PageRequest{})
	require.NoError(t, err)
	require.Len(t, page.Content, 2)
	for _, v := range page.Content {
		assert.Equal(t, f.alice.ID, v.UserID)
	}
	assert.Equal(t, int64(2), page.Metadata.TotalElements)
	assert.Equal(t, models.DefaultPageSize, page.Metadata.Size)

	page, err = f.svc.ListByFilter(ctx, models.CardFilter{}, f.admin, models.PageRequest{
		Size: 2, Sort: []models.SortOrder{{Field: "balance", Direction: models.SortDesc}},
	})
	require.NoError(t, err)
	assert.Equal(t, int64(3), page.Metadata.TotalElements)
	assert.Equal(t, int64(2), page.Metadata.TotalPages)
	require.Len(t, page.Content, 2)
	assert.Equal(t, int64(30), page.Content[0].Balance)

	_, err = f.svc.ListByFilter(ctx, models.CardFilter{}, f.admin, models.PageRequest{
		Sort: []models.SortOrder{{Field: "number"}},
	})
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
}

func TestListByOwner(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.addCard(t, f.alice.ID, "4000000000000001", models.CardStatusActive, 10)

	views, err := f.svc.ListByOwner(ctx, f.alice.ID, f.admin)
	require.NoError(t, err)
	assert.Len(t, views, 1)

	_, err = f.svc.ListByOwner(ctx, f.alice.ID, f.bob)
	assert.ErrorIs(t, err, models.ErrAccessDenied)
}

func TestCreate(t *testing.T) {
	ctx := context.Background()

	t.Run("issues active card with zero balance", func(t *testing.T) {
		f := newFixture(t)
		view, err := f.svc.Create(ctx, f.alice.ID, testNow.AddDate(3, 0, 0))
		require.NoError(t, err)

		assert.Equal(t, models.CardStatusActive, view.Status)
		assert.Zero(t, view.Balance)
		assert.Equal(t, f.alice.ID, view.UserID)
		assert.Regexp(t, `^\*\*\*\* \*\*\*\* \*\*\*\* \d{4}$`, view.Number)

		stored, err := f.repo.FindByID(ctx, view.ID)
		require.NoError(t, err)
		plain, err := f.cipher.Decrypt(stored.Number)
		require.NoError(t, err)
		assert.NoError(t, utils.ValidateCardNumber(plain))
		assert.Equal(t, plain[12:], view.Number[15:])
	})

	t.Run("retries until number is unique", func(t *testing.T) {
		numbers := []string{"4000000000000001", "4000000000000001", "4000000000000002"}
		calls := 0
		f := newFixture(t, WithNumberGenerator(func() (string, error) {
			n := numbers[calls]
			calls++
			return n, nil
		}))
		f.addCard(t, f.bob.ID, "4000000000000001", models.CardStatusActive, 0)

		view, err := f.svc.Create(ctx, f.alice.ID, testNow.AddDate(1, 0, 0))
		require.NoError(t, err)
		assert.Equal(t, 3, calls)
		assert.Equal(t, "**** **** **** 0002", view.Number)
	})

	t.Run("unknown owner", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Create(ctx, uuid.New(), testNow.AddDate(1, 0, 0))
		assert.ErrorIs(t, err, models.ErrNotFound)
	})

	t.Run("expiration must be after today", func(t *testing.T) {
		f := newFixture(t)
		_, err := f.svc.Create(ctx, f.alice.ID, testNow)
		assert.ErrorIs(t, err, models.ErrInvalidArgument)
		_, err = f.svc.Create(ctx, f.alice.ID, testNow.AddDate(0, 0, 1))
		assert.NoError(t, err)
	})

	t.Run("generator failure", func(t *testing.T) {
		f := newFixture(t, WithNumberGenerator(func() (string, error) {
			return "", errors.New("entropy exhausted")
		}))
		_, err := f.svc.Create(ctx, f.alice.ID, testNow.AddDate(1, 0, 0))
		assert.ErrorContains(t, err, "entropy exhausted")
	})
}

func TestUpdateStatus(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.addCard(t, f.alice.ID, "4000000000000001", models.CardStatusActive, 10)

	view, err := f.svc.UpdateStatus(ctx, card.ID, models.CardStatusBlocked, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusBlocked, view.Status)

	view, err = f.svc.UpdateStatus(ctx, card.ID, models.CardStatusBlocked, f.admin)
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusBlocked, view.Status)

	_, err = f.svc.UpdateStatus(ctx, card.ID, "FROZEN", f.admin)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)

	_, err = f.svc.UpdateStatus(ctx, card.ID, models.CardStatusExpired, f.admin)
	require.NoError(t, err)
	_, err = f.svc.UpdateStatus(ctx, card.ID, models.CardStatusActive, f.admin)
	assert.ErrorIs(t, err, models.ErrCardExpired)
	assert.ErrorIs(t, err, models.ErrAccessDenied)
}

// hookRepo runs afterFind once, right after the first card lookup inside a
// transaction, so a test can interleave a competing write.
type hookRepo struct {
	repository.CardRepository
	afterFind func()
	once      sync.Once
}

func (r *hookRepo) FindByID(ctx context.Context, id uuid.UUID) (*models.Card, error) {
	card, err := r.CardRepository.FindByID(ctx, id)
	if r.afterFind != nil {
		r.once.Do(r.afterFind)
	}
	return card, err
}

func (r *hookRepo) WithinTx(ctx context.Context, fn func(repo repository.CardRepository) error) error {
	return r.CardRepository.WithinTx(ctx, func(tx repository.CardRepository) error {
		return fn(&hookRepo{CardRepository: tx, afterFind: r.afterFind})
	})
}

func TestUpdateStatus_ConcurrentWrites(t *testing.T) {
	tests := []struct {
		name       string
		start      models.CardStatus
		target     models.CardStatus
		competing  func(f *fixture, a, b models.Card) error
		wantStatus models.CardStatus
		wantA      int64
		wantB      int64
	}{
		{
			name:   "transfer keeps its balances",
			start:  models.CardStatusActive,
			target: models.CardStatusActive,
			competing: func(f *fixture, a, b models.Card) error {
				_, err := f.svc.Transfer(context.Background(), models.Transfer{FromCard: a.ID, ToCard: b.ID, Amount: 40}, f.alice)
				return err
			},
			wantStatus: models.CardStatusActive,
			wantA:      60,
			wantB:      45,
		},
		{
			name:   "expiry is not undone",
			start:  models.CardStatusBlocked,
			target: models.CardStatusActive,
			competing: func(f *fixture, a, _ models.Card) error {
				return f.repo.UpdateStatusByID(context.Background(), a.ID, models.CardStatusExpired)
			},
			wantStatus: models.CardStatusExpired,
			wantA:      100,
			wantB:      5,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			ctx := context.Background()
			a := f.addCard(t, f.alice.ID, "4000000000000001", models.CardStatusActive, 100)
			b := f.addCard(t, f.alice.ID, "4000000000000002", models.CardStatusActive, 5)
			if tt.start != models.CardStatusActive {
				_, err := f.svc.UpdateStatus(ctx, a.ID, tt.start, f.admin)
				require.NoError(t, err)
			}

			done := make(chan error, 1)
			repo := &hookRepo{CardRepository: f.repo, afterFind: func() {
				go func() { done <- tt.competing(f, a, b) }()
				time.Sleep(20 * time.Millisecond)
			}}
			svc := NewCardService(repo, f.repo, f.cipher, testLogger(), WithClock(func() time.Time { return testNow }))

			_, err := svc.UpdateStatus(ctx, a.ID, tt.target, f.admin)
			require.NoError(t, err)
			require.NoError(t, <-done)

			card, err := f.repo.FindByID(ctx, a.ID)
			require.NoError(t, err)
			assert.Equal(t, tt.wantStatus, card.Status)
			assert.Equal(t, tt.wantA, card.Balance)
			assert.Equal(t, tt.wantB, f.balance(t, b.ID))
			assert.Equal(t, int64(105), card.Balance+f.balance(t, b.ID))
		})
	}
}

func TestBlockRequest(t *testing.T) {
	ctx := context.Background()
	notifier := new(MockNotifier)
	f := newFixture(t, WithNotifier(notifier))
	card := f.addCard(t, f.alice.ID, "4000000000000001", models.CardStatusActive, 10)

	notifier.On("CardBlocked", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
		return u.ID == f.alice.ID
	}), mock.AnythingOfType("models.CardView")).Return(nil).Once()

	view, err := f.svc.BlockRequest(ctx, card.ID, f.alice)
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusBlocked, view.Status)

	// blocking twice is fine, the owner hears about it once
	view, err = f.svc.BlockRequest(ctx, card.ID, f.alice)
	require.NoError(t, err)
	assert.Equal(t, models.CardStatusBlocked, view.Status)

	_, err = f.svc.BlockRequest(ctx, card.ID, f.bob)
	assert.ErrorIs(t, err, models.ErrAccessDenied)

	notifier.AssertExpectations(t)
}

func TestTransfer(t *testing.T) {
	ctx := context.Background()

	tests := []struct {
		name        string
		fromStatus  models.CardStatus
		toStatus    models.CardStatus
		fromOwner   func(f *fixture) uuid.UUID
		toOwner     func(f *fixture) uuid.UUID
		missingFrom bool
		missingTo   bool
		amount      int64
		wantErr     error
	}{
		{name: "success", amount: 40},
		{name: "whole balance", amount: 100},
		{name: "insufficient balance", amount: 101, wantErr: models.ErrInsufficientBalance},
		{name: "zero amount", amount: 0, wantErr: models.ErrAccessDenied},
		{name: "negative amount", amount: -5, wantErr: models.ErrAccessDenied},
		{name: "source blocked", fromStatus: models.CardStatusBlocked, amount: 10, wantErr: models.ErrCardNotActive},
		{name: "destination expired", toStatus: models.CardStatusExpired, amount: 10, wantErr: models.ErrCardNotActive},
		{name: "balance checked before status", fromStatus: models.CardStatusBlocked, amount: 500, wantErr: models.ErrInsufficientBalance},
		{name: "foreign source", fromOwner: func(f *fixture) uuid.UUID { return f.bob.ID }, amount: 10, wantErr: models.ErrAccessDenied},
		{name: "foreign destination", toOwner: func(f *fixture) uuid.UUID { return f.bob.ID }, amount: 10, wantErr: models.ErrAccessDenied},
		{name: "missing destination", missingTo: true, amount: 10, wantErr: models.ErrNotFound},
		{name: "missing source", missingFrom: true, amount: 10, wantErr: models.ErrNotFound},
		{name: "missing source reported before foreign destination", missingFrom: true, toOwner: func(f *fixture) uuid.UUID { return f.bob.ID }, amount: 10, wantErr: models.ErrNotFound},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			f := newFixture(t)
			fromOwner, toOwner := f.alice.ID, f.alice.ID
			if tt.fromOwner != nil {
				fromOwner = tt.fromOwner(f)
			}
			if tt.toOwner != nil {
				toOwner = tt.toOwner(f)
			}
			fromStatus, toStatus := models.CardStatusActive, models.CardStatusActive
			if tt.fromStatus != "" {
				fromStatus = tt.fromStatus
			}
			if tt.toStatus != "" {
				toStatus = tt.toStatus
			}

			from := f.addCard(t, fromOwner, "4000000000000001", fromStatus, 100)
			to := f.addCard(t, toOwner, "4000000000000002", toStatus, 5)
			fromID, toID := from.ID, to.ID
			if tt.missingFrom {
				fromID = uuid.New()
			}
			if tt.missingTo {
				toID = uuid.New()
			}

			views, err := f.svc.Transfer(ctx, models.Transfer{FromCard: fromID, ToCard: toID, Amount: tt.amount}, f.alice)
			if tt.wantErr != nil {
				assert.ErrorIs(t, err, tt.wantErr)
				assert.Equal(t, int64(100), f.balance(t, from.ID))
				assert.Equal(t, int64(5), f.balance(t, to.ID))
				return
			}

			require.NoError(t, err)
			require.Len(t, views, 2)
			assert.Equal(t, 100-tt.amount, views[0].Balance)
			assert.Equal(t, 5+tt.amount, views[1].Balance)
			assert.Equal(t, int64(105), f.balance(t, from.ID)+f.balance(t, to.ID))
		})
	}
}

func TestTransfer_SameCard(t *testing.T) {
	f := newFixture(t)
	card := f.addCard(t, f.alice.ID, "4000000000000001", models.CardStatusActive, 100)

	_, err := f.svc.Transfer(context.Background(), models.Transfer{FromCard: card.ID, ToCard: card.ID, Amount: 10}, f.alice)
	assert.ErrorIs(t, err, models.ErrInvalidArgument)
	assert.Equal(t, int64(100), f.balance(t, card.ID))

	missing := uuid.New()
	_, err = f.svc.Transfer(context.Background(), models.Transfer{FromCard: missing, ToCard: missing, Amount: 10}, f.alice)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.NotErrorIs(t, err, models.ErrInvalidArgument)
}

func TestTransfer_ConcurrentConservesTotal(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.addCard(t, f.alice.ID, "4000000000000001", models.CardStatusActive, 1000)
	b := f.addCard(t, f.alice.ID, "4000000000000002", models.CardStatusActive, 1000)

	done := make(chan error)
	for i := range 50 {
		go func() {
			tr := models.Transfer{FromCard: a.ID, ToCard: b.ID, Amount: 7}
			if i%2 == 0 {
				tr.FromCard, tr.ToCard = b.ID, a.ID
			}
			_, err := f.svc.Transfer(ctx, tr, f.alice)
			done <- err
		}()
	}
	for range 50 {
		require.NoError(t, <-done)
	}
	assert.Equal(t, int64(2000), f.balance(t, a.ID)+f.balance(t, b.ID))
}

func TestTransfer_NotifiesSourceOwner(t *testing.T) {
	notifier := new(MockNotifier)
	f := newFixture(t, WithNotifier(notifier))
	from := f.addCard(t, f.alice.ID, "4000000000000001", models.CardStatusActive, 100)
	to := f.addCard(t, f.alice.ID, "4000000000000002", models.CardStatusActive, 0)

	notifier.On("TransferCompleted", mock.Anything, mock.Anything, mock.Anything, mock.Anything, int64(25)).
		Return(errors.New("smtp down"))

	_, err := f.svc.Transfer(context.Background(), models.Transfer{FromCard: from.ID, ToCard: to.ID, Amount: 25}, f.alice)
	require.NoError(t, err, "notification failures must not fail the transfer")
	notifier.AssertExpectations(t)
}

func TestDeleteByID(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	card := f.addCard(t, f.alice.ID, "4000000000000001", models.CardStatusActive, 0)

	require.NoError(t, f.svc.DeleteByID(ctx, card.ID, f.admin))
	_, err := f.svc.GetByID(ctx, card.ID, f.admin)
	assert.ErrorIs(t, err, models.ErrNotFound)
	assert.ErrorIs(t, f.svc.DeleteByID(ctx, card.ID, f.admin), models.ErrNotFound)
}

func TestListStatuses(t *testing.T) {
	f := newFixture(t)
	assert.Equal(t, []models.CardStatus{models.CardStatusActive, models.CardStatusBlocked, models.CardStatusExpired}, f.svc.ListStatuses())
}

func TestNotifyExpired(t *testing.T) {
	notifier := new(MockNotifier)
	f := newFixture(t, WithNotifier(notifier))
	card := f.addCard(t, f.bob.ID, "4000000000000001", models.CardStatusExpired, 0)

	notifier.On("CardExpired", mock.Anything, mock.MatchedBy(func(u *models.User) bool {
		return u.Username == "bob"
	}), mock.MatchedBy(func(v models.CardView) bool {
		return v.ID == card.ID
	})).Return(nil).Once()

	require.NoError(t, f.svc.NotifyExpired(context.Background(), card.ID))
	notifier.AssertExpectations(t)
}
