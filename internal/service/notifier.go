package service

import (
	"context"

	"github.com/Dan9191/bankcards/internal/models"
)

// Notifier tells card owners about changes to their cards.
// Implementations must not block on delivery.
type Notifier interface {
	CardBlocked(ctx context.Context, owner *models.User, card models.CardView) error
	CardExpired(ctx context.Context, owner *models.User, card models.CardView) error
	TransferCompleted(ctx context.Context, owner *models.User, from, to models.CardView, amount int64) error
}
