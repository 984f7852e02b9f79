package access

import (
	"testing"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
)

func TestCanAccessCard(t *testing.T) {
	owner := uuid.New()
	other := uuid.New()

	tests := []struct {
		name      string
		principal models.Principal
		ownerID   uuid.UUID
		want      bool
	}{
		{
			name:      "owner",
			principal: models.Principal{ID: owner, Roles: []models.Role{models.RoleUser}},
			ownerID:   owner,
			want:      true,
		},
		{
			name:      "another user",
			principal: models.Principal{ID: other, Roles: []models.Role{models.RoleUser}},
			ownerID:   owner,
			want:      false,
		},
		{
			name:      "admin",
			principal: models.Principal{ID: other, Roles: []models.Role{models.RoleAdmin}},
			ownerID:   owner,
			want:      true,
		},
		{
			name:      "owner without roles",
			principal: models.Principal{ID: owner},
			ownerID:   owner,
			want:      true,
		},
		{
			name:      "anonymous",
			principal: models.Principal{},
			ownerID:   uuid.Nil,
			want:      false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, CanAccessCard(tt.principal, tt.ownerID))
		})
	}
}

func TestHasAnyRole(t *testing.T) {
	p := models.Principal{ID: uuid.New(), Roles: []models.Role{models.RoleUser}}

	assert.True(t, HasAnyRole(p, models.RoleAdmin, models.RoleUser))
	assert.False(t, HasAnyRole(p, models.RoleAdmin))
	assert.False(t, HasAnyRole(p))
	assert.False(t, IsElevated(p))
	assert.True(t, IsElevated(models.Principal{Roles: []models.Role{models.RoleAdmin}}))
}
