package email

import (
	"context"
	"fmt"
	"net/smtp"
	"sync"
	"time"

	"github.com/Dan9191/bankcards/internal/config"
	"github.com/Dan9191/bankcards/internal/models"
	"github.com/jordan-wright/email"
	"github.com/sirupsen/logrus"
)

// Sender notifies card owners by e-mail. Messages are delivered in the
// background; Wait blocks until every queued message has been handled.
type Sender struct {
	cfg    *config.Config
	logger *logrus.Logger
	send   func(e *email.Email) error
	wg     sync.WaitGroup
}

// NewSender creates a new email sender
func NewSender(cfg *config.Config, logger *logrus.Logger) *Sender {
	s := &Sender{cfg: cfg, logger: logger}
	s.send = s.smtpSend
	return s
}

func (s *Sender) smtpSend(e *email.Email) error {
	addr := fmt.Sprintf("%s:%s", s.cfg.SMTPHost, s.cfg.SMTPPort)
	auth := smtp.PlainAuth("", s.cfg.SMTPUsername, s.cfg.SMTPPassword, s.cfg.SMTPHost)
	return e.Send(addr, auth)
}

func (s *Sender) dispatch(owner *models.User, subject, body string) error {
	if owner.Email == "" {
		s.logger.WithField("user_id", owner.ID).Debug("User has no email, skipping notification")
		return nil
	}

	e := email.NewEmail()
	e.From = s.cfg.SenderEmail
	e.To = []string{owner.Email}
	e.Subject = subject
	e.Text = []byte(fmt.Sprintf("Dear %s,\n\n%s\n\nBest regards,\nBank Cards", owner.Username, body))

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		if err := s.send(e); err != nil {
			s.logger.Errorf("Failed to send email to %s: %v", owner.Email, err)
			return
		}
		s.logger.Infof("Email sent to %s: %s", owner.Email, e.Subject)
	}()
	return nil
}

// Wait blocks until all queued messages are sent or ctx is done
func (s *Sender) Wait(ctx context.Context) error {
	done := make(chan struct{})
	go func() {
		s.wg.Wait()
		close(done)
	}()
	select {
	case <-done:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// CardBlocked tells the owner that a card was blocked
func (s *Sender) CardBlocked(_ context.Context, owner *models.User, card models.CardView) error {
	return s.dispatch(owner, "Card Blocked",
		fmt.Sprintf("Your card %s has been blocked at %s.", card.Number, card.UpdatedAt.Format(time.DateTime)))
}

// CardExpired tells the owner that a card reached its expiration date
func (s *Sender) CardExpired(_ context.Context, owner *models.User, card models.CardView) error {
	return s.dispatch(owner, "Card Expired",
		fmt.Sprintf("Your card %s expired on %s and can no longer be used for transfers.", card.Number, card.ExpirationDate))
}

// TransferCompleted confirms a transfer between the owner's cards
func (s *Sender) TransferCompleted(_ context.Context, owner *models.User, from, to models.CardView, amount int64) error {
	return s.dispatch(owner, "Transfer Notification",
		fmt.Sprintf("An amount of %d has been transferred from card %s to card %s.\n"+
			"Balance of %s: %d\nBalance of %s: %d",
			amount, from.Number, to.Number, from.Number, from.Balance, to.Number, to.Balance))
}
