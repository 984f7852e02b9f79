package models

import (
	"time"

	"github.com/google/uuid"
)

// CardStatus is the lifecycle state of a card
type CardStatus string

const (
	CardStatusActive  CardStatus = "ACTIVE"
	CardStatusBlocked CardStatus = "BLOCKED"
	CardStatusExpired CardStatus = "EXPIRED"
)

// CardStatuses lists every status in declaration order
func CardStatuses() []CardStatus {
	return []CardStatus{CardStatusActive, CardStatusBlocked, CardStatusExpired}
}

// Valid reports whether s is a known status
func (s CardStatus) Valid() bool {
	switch s {
	case CardStatusActive, CardStatusBlocked, CardStatusExpired:
		return true
	}
	return false
}

// DateLayout is the wire format of expiration dates
const DateLayout = "2006-01-02"

// Card represents a bank card as stored. Number holds the ciphertext.
type Card struct {
	ID             uuid.UUID
	Number         string
	ExpirationDate time.Time
	Status         CardStatus
	Balance        int64
	UserID         uuid.UUID
	CreatedAt      time.Time
	UpdatedAt      time.Time
}

// CardView is the outward representation of a card with the number masked
type CardView struct {
	ID             uuid.UUID  `json:"id"`
	Number         string     `json:"number"`
	ExpirationDate string     `json:"expirationDate"`
	Status         CardStatus `json:"status"`
	Balance        int64      `json:"balance"`
	UserID         uuid.UUID  `json:"userId"`
	CreatedAt      time.Time  `json:"createdAt"`
	UpdatedAt      time.Time  `json:"updatedAt"`
}

// Transfer moves Amount from one card to another
type Transfer struct {
	FromCard uuid.UUID `json:"fromCard" validate:"required"`
	ToCard   uuid.UUID `json:"toCard" validate:"required"`
	Amount   int64     `json:"amount" validate:"gt=0"`
}

// CardFilter narrows a card listing. Nil fields are ignored.
type CardFilter struct {
	ExpirationDateFrom *time.Time
	ExpirationDateTo   *time.Time
	Status             *CardStatus
	MinBalance         *int64
	MaxBalance         *int64
	UserID             *uuid.UUID
	CreatedFrom        *time.Time
	CreatedTo          *time.Time
	UpdatedFrom        *time.Time
	UpdatedTo          *time.Time
}

// WithOwner returns a copy of the filter restricted to ownerID
func (f CardFilter) WithOwner(ownerID uuid.UUID) CardFilter {
	f.UserID = &ownerID
	return f
}

// DateOf returns midnight UTC of the calendar date of t in its own location
func DateOf(t time.Time) time.Time {
	y, m, d := t.Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
