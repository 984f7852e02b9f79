package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/Dan9191/bankcards/internal/repository"
	"github.com/golang-jwt/jwt/v5"
	"github.com/google/uuid"
	"github.com/sirupsen/logrus"
	"golang.org/x/crypto/bcrypt"
)

// UserService authenticates users and issues access tokens
type UserService struct {
	users  repository.UserRepository
	log    *logrus.Logger
	secret []byte
	ttl    time.Duration
	now    func() time.Time
}

// NewUserService initializes a new user service
func NewUserService(users repository.UserRepository, log *logrus.Logger, jwtSecret string, ttl time.Duration) *UserService {
	return &UserService{users: users, log: log, secret: []byte(jwtSecret), ttl: ttl, now: time.Now}
}

// Login authenticates a user and returns a JWT token
func (s *UserService) Login(ctx context.Context, username, password string) (string, error) {
	user, err := s.users.FindUserByUsername(ctx, username)
	if err != nil {
		if errors.Is(err, models.ErrNotFound) {
			return "", fmt.Errorf("invalid credentials: %w", models.ErrUnauthorized)
		}
		return "", err
	}

	// Verify password
	if err := bcrypt.CompareHashAndPassword([]byte(user.PasswordHash), []byte(password)); err != nil {
		return "", fmt.Errorf("invalid credentials: %w", models.ErrUnauthorized)
	}
	if !user.CanLogin() {
		return "", fmt.Errorf("account is disabled or locked: %w", models.ErrUnauthorized)
	}

	roles := make([]string, 0, len(user.Roles))
	for _, r := range user.Roles {
		roles = append(roles, string(r))
	}
	now := s.now()
	token := jwt.NewWithClaims(jwt.SigningMethodHS256, models.UserClaims{
		UserID: user.ID.String(),
		Roles:  roles,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   user.Username,
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(s.ttl)),
		},
	})
	tokenString, err := token.SignedString(s.secret)
	if err != nil {
		return "", fmt.Errorf("failed to generate token: %w", err)
	}

	s.log.WithField("user_id", user.ID).Info("User logged in")
	return tokenString, nil
}

// ParseToken verifies a token and returns the identity it carries
func (s *UserService) ParseToken(tokenString string) (models.Principal, error) {
	claims := &models.UserClaims{}
	_, err := jwt.ParseWithClaims(tokenString, claims, func(t *jwt.Token) (any, error) {
		return s.secret, nil
	},
		jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}),
		jwt.WithTimeFunc(s.now),
		jwt.WithExpirationRequired(),
	)
	if err != nil {
		return models.Principal{}, fmt.Errorf("invalid token: %v: %w", err, models.ErrUnauthorized)
	}

	id, err := uuid.Parse(claims.UserID)
	if err != nil {
		return models.Principal{}, fmt.Errorf("invalid token subject: %w", models.ErrUnauthorized)
	}
	p := models.Principal{ID: id, Username: claims.Subject}
	for _, r := range claims.Roles {
		p.Roles = append(p.Roles, models.Role(r))
	}
	return p, nil
}

// GetUserByID returns a user by ID
func (s *UserService) GetUserByID(ctx context.Context, id uuid.UUID) (*models.User, error) {
	return s.users.FindUserByID(ctx, id)
}
