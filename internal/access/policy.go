// Package access decides whether a principal may act on a card.
package access

import (
	"slices"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/google/uuid"
)

// HasRole reports whether p holds role
func HasRole(p models.Principal, role models.Role) bool {
	return slices.Contains(p.Roles, role)
}

// HasAnyRole reports whether p holds at least one of roles
func HasAnyRole(p models.Principal, roles ...models.Role) bool {
	for _, r := range roles {
		if HasRole(p, r) {
			return true
		}
	}
	return false
}

// IsElevated reports whether p may see and manage every card
func IsElevated(p models.Principal) bool {
	return HasRole(p, models.RoleAdmin)
}

// CanAccessCard reports whether p may read or mutate a card owned by ownerID
func CanAccessCard(p models.Principal, ownerID uuid.UUID) bool {
	if IsElevated(p) {
		return true
	}
	return p.ID != uuid.Nil && p.ID == ownerID
}
