package handler

import (
	"fmt"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/Dan9191/bankcards/internal/models"
	"github.com/google/uuid"
)

type queryParser struct {
	q   url.Values
	err error
}

func (p *queryParser) fail(key, value string) {
	if p.err == nil {
		p.err = fmt.Errorf("invalid query parameter %s=%q: %w", key, value, models.ErrInvalidArgument)
	}
}

func (p *queryParser) dateParam(key string, layout string) *time.Time {
	v := p.q.Get(key)
	if v == "" {
		return nil
	}
	t, err := time.Parse(layout, v)
	if err != nil {
		p.fail(key, v)
		return nil
	}
	return &t
}

func (p *queryParser) int64Param(key string) *int64 {
	v := p.q.Get(key)
	if v == "" {
		return nil
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		p.fail(key, v)
		return nil
	}
	return &n
}

func (p *queryParser) intParam(key string) int {
	v := p.q.Get(key)
	if v == "" {
		return 0
	}
	n, err := strconv.Atoi(v)
	if err != nil {
		p.fail(key, v)
	}
	return n
}

func (p *queryParser) uuidParam(key string) *uuid.UUID {
	v := p.q.Get(key)
	if v == "" {
		return nil
	}
	id, err := uuid.Parse(v)
	if err != nil {
		p.fail(key, v)
		return nil
	}
	return &id
}

func (p *queryParser) statusParam(key string) *models.CardStatus {
	v := p.q.Get(key)
	if v == "" {
		return nil
	}
	s := models.CardStatus(strings.ToUpper(v))
	if !s.Valid() {
		p.fail(key, v)
		return nil
	}
	return &s
}

// parseCardQuery reads the filter and page from query parameters. Sort is
// given as sort=field or sort=field,dir and may repeat.
func parseCardQuery(q url.Values) (models.CardFilter, models.PageRequest, error) {
	p := &queryParser{q: q}
	filter := models.CardFilter{
		ExpirationDateFrom: p.dateParam("expirationDateFrom", models.DateLayout),
		ExpirationDateTo:   p.dateParam("expirationDateTo", models.DateLayout),
		Status:             p.statusParam("status"),
		MinBalance:         p.int64Param("minBalance"),
		MaxBalance:         p.int64Param("maxBalance"),
		UserID:             p.uuidParam("userId"),
		CreatedFrom:        p.dateParam("createdFrom", time.RFC3339),
		CreatedTo:          p.dateParam("createdTo", time.RFC3339),
		UpdatedFrom:        p.dateParam("updatedFrom", time.RFC3339),
		UpdatedTo:          p.dateParam("updatedTo", time.RFC3339),
	}
	page := models.PageRequest{
		Number: p.intParam("page"),
		Size:   p.intParam("size"),
	}
	for _, s := range q["sort"] {
		field, dir, _ := strings.Cut(s, ",")
		page.Sort = append(page.Sort, models.SortOrder{
			Field:     strings.TrimSpace(field),
			Direction: models.SortDirection(strings.TrimSpace(dir)),
		})
	}
	return filter, page, p.err
}
