package handler

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/Dan9191/bankcards/internal/middleware"
	"github.com/Dan9191/bankcards/internal/models"
	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
	"github.com/sirupsen/logrus"
)

// CardService is the card lifecycle as seen by the HTTP layer
type CardService interface {
	GetByID(ctx context.Context, id uuid.UUID, p models.Principal) (*models.CardView, error)
	ListByFilter(ctx context.Context, filter models.CardFilter, p models.Principal, page models.PageRequest) (*models.CardPage, error)
	ListByOwner(ctx context.Context, ownerID uuid.UUID, p models.Principal) ([]models.CardView, error)
	Create(ctx context.Context, ownerID uuid.UUID, expirationDate time.Time) (*models.CardView, error)
	UpdateStatus(ctx context.Context, id uuid.UUID, status models.CardStatus, p models.Principal) (*models.CardView, error)
	BlockRequest(ctx context.Context, id uuid.UUID, p models.Principal) (*models.CardView, error)
	Transfer(ctx context.Context, t models.Transfer, p models.Principal) ([]models.CardView, error)
	DeleteByID(ctx context.Context, id uuid.UUID, p models.Principal) error
	ListStatuses() []models.CardStatus
}

// AuthService logs users in and verifies their tokens
type AuthService interface {
	middleware.TokenVerifier
	Login(ctx context.Context, username, password string) (string, error)
}

// Pinger reports whether the card store is reachable
type Pinger interface {
	Ping(ctx context.Context) error
}

type Handler struct {
	cards    CardService
	auth     AuthService
	store    Pinger
	log      *logrus.Logger
	validate *validator.Validate
}

func NewHandler(cards CardService, auth AuthService, store Pinger, log *logrus.Logger) *Handler {
	return &Handler{
		cards:    cards,
		auth:     auth,
		store:    store,
		log:      log,
		validate: validator.New(validator.WithRequiredStructEnabled()),
	}
}

// Routes builds the router with every endpoint and its role requirements
func (h *Handler) Routes() *mux.Router {
	r := mux.NewRouter()
	r.NotFoundHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusNotFound, "no route for "+r.URL.Path)
	})
	r.MethodNotAllowedHandler = http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		middleware.WriteError(w, http.StatusMethodNotAllowed, "method not allowed")
	})
	r.Use(middleware.Recoverer(h.log), middleware.LoggingMiddleware(h.log))

	// Public routes
	r.HandleFunc("/login", h.Login).Methods(http.MethodPost)
	r.HandleFunc("/health", h.Health).Methods(http.MethodGet)

	// Protected routes
	api := r.PathPrefix("/api/v1").Subrouter()
	api.Use(middleware.AuthMiddleware(h.auth, h.log))

	admin := middleware.RequireRole(models.RoleAdmin)
	user := middleware.RequireRole(models.RoleUser)
	anyone := middleware.RequireRole(models.RoleAdmin, models.RoleUser)

	cards := api.PathPrefix("/cards").Subrouter()
	cards.Handle("/statuses", admin(http.HandlerFunc(h.ListStatuses))).Methods(http.MethodGet)
	cards.Handle("/transfer", user(http.HandlerFunc(h.Transfer))).Methods(http.MethodPost)
	cards.Handle("", anyone(http.HandlerFunc(h.ListCards))).Methods(http.MethodGet)
	cards.Handle("", admin(http.HandlerFunc(h.CreateCard))).Methods(http.MethodPost)
	cards.Handle("/{id}", anyone(http.HandlerFunc(h.GetCard))).Methods(http.MethodGet)
	cards.Handle("/{id}", admin(http.HandlerFunc(h.DeleteCard))).Methods(http.MethodDelete)
	cards.Handle("/{id}/status", admin(http.HandlerFunc(h.UpdateStatus))).Methods(http.MethodPatch)
	cards.Handle("/{id}/block", user(http.HandlerFunc(h.BlockCard))).Methods(http.MethodPatch)

	api.Handle("/users/{id}/cards", admin(http.HandlerFunc(h.ListUserCards))).Methods(http.MethodGet)
	return r
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// writeServiceError maps error kinds to status codes. Unexpected errors are
// logged and reported without detail.
func (h *Handler) writeServiceError(w http.ResponseWriter, r *http.Request, err error) {
	var status int
	switch {
	case errors.Is(err, models.ErrNotFound):
		status = http.StatusNotFound
	case errors.Is(err, models.ErrAccessDenied):
		status = http.StatusForbidden
	case errors.Is(err, models.ErrInsufficientBalance):
		status = http.StatusConflict
	case errors.Is(err, models.ErrInvalidArgument):
		status = http.StatusBadRequest
	case errors.Is(err, models.ErrUnauthorized):
		status = http.StatusUnauthorized
	default:
		h.log.WithError(err).WithField("path", r.URL.Path).Error("Request failed")
		middleware.WriteError(w, http.StatusInternalServerError, "internal server error")
		return
	}
	h.log.WithError(err).WithField("path", r.URL.Path).Debug("Request rejected")
	middleware.WriteError(w, status, err.Error())
}

// decode reads a JSON body into dst and validates its tags
func (h *Handler) decode(r *http.Request, dst any) error {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		return fmt.Errorf("malformed request body: %w", models.ErrInvalidArgument)
	}
	if err := h.validate.Struct(dst); err != nil {
		var verrs validator.ValidationErrors
		if errors.As(err, &verrs) {
			fields := make([]string, 0, len(verrs))
			for _, fe := range verrs {
				fields = append(fields, fmt.Sprintf("%s failed on %s", fe.Field(), fe.Tag()))
			}
			return fmt.Errorf("%s: %w", strings.Join(fields, "; "), models.ErrInvalidArgument)
		}
		return err
	}
	return nil
}

func principal(r *http.Request) models.Principal {
	p, _ := middleware.PrincipalFromContext(r.Context())
	return p
}

func pathID(r *http.Request) (uuid.UUID, error) {
	id, err := uuid.Parse(mux.Vars(r)["id"])
	if err != nil {
		return uuid.Nil, fmt.Errorf("invalid id %q: %w", mux.Vars(r)["id"], models.ErrInvalidArgument)
	}
	return id, nil
}
