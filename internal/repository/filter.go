package repository

import (
	"fmt"
	"math"
	"slices"
	"strings"

	"github.com/Dan9191/bankcards/internal/models"
)

const cardColumns = "id, number, expiration_date, status, balance, user_id, created_at, updated_at"

// sortColumns maps the public sort keys to columns. The owner key sorts by the owner's id.
var sortColumns = map[string]string{
	"id":             "id",
	"expirationDate": "expiration_date",
	"status":         "status",
	"balance":        "balance",
	"userId":         "user_id",
	"createdAt":      "created_at",
	"updatedAt":      "updated_at",
}

// SortColumn returns the column behind a public sort key
func SortColumn(field string) (string, error) {
	col, ok := sortColumns[field]
	if !ok {
		return "", fmt.Errorf("unsupported sort field %q: %w", field, models.ErrInvalidArgument)
	}
	return col, nil
}

// NormalizePage applies defaults and bounds to a page request
func NormalizePage(p models.PageRequest) (models.PageRequest, error) {
	if p.Number < 0 {
		return p, fmt.Errorf("page number must not be negative: %w", models.ErrInvalidArgument)
	}
	if p.Size < 0 {
		return p, fmt.Errorf("page size must not be negative: %w", models.ErrInvalidArgument)
	}
	if p.Size == 0 {
		p.Size = models.DefaultPageSize
	}
	if p.Size > models.MaxPageSize {
		p.Size = models.MaxPageSize
	}
	if p.Number > math.MaxInt/p.Size {
		return p, fmt.Errorf("page number %d is out of range: %w", p.Number, models.ErrInvalidArgument)
	}
	p.Sort = slices.Clone(p.Sort)
	for i, o := range p.Sort {
		if _, err := SortColumn(o.Field); err != nil {
			return p, err
		}
		switch strings.ToUpper(string(o.Direction)) {
		case "", string(models.SortAsc):
			p.Sort[i].Direction = models.SortAsc
		case string(models.SortDesc):
			p.Sort[i].Direction = models.SortDesc
		default:
			return p, fmt.Errorf("unsupported sort direction %q: %w", o.Direction, models.ErrInvalidArgument)
		}
	}
	return p, nil
}

// CardQuery is a parameterized listing query and its matching count query
type CardQuery struct {
	Select     string
	SelectArgs []any
	Count      string
	CountArgs  []any
}

type predicates struct {
	clauses []string
	args    []any
}

// add appends one AND clause; format must contain a single %d for the placeholder index
func (p *predicates) add(format string, arg any) {
	p.args = append(p.args, arg)
	p.clauses = append(p.clauses, fmt.Sprintf(format, len(p.args)))
}

// BuildCardQuery translates a filter and page into SQL with bound parameters.
// The count query shares the predicates of the page query.
func BuildCardQuery(filter models.CardFilter, page models.PageRequest) (CardQuery, error) {
	page, err := NormalizePage(page)
	if err != nil {
		return CardQuery{}, err
	}

	var p predicates
	if filter.ExpirationDateFrom != nil {
		p.add("expiration_date >= $%d", *filter.ExpirationDateFrom)
	}
	if filter.ExpirationDateTo != nil {
		p.add("expiration_date <= $%d", *filter.ExpirationDateTo)
	}
	if filter.Status != nil {
		p.add("status = $%d", string(*filter.Status))
	}
	if filter.MinBalance != nil {
		p.add("balance >= $%d", *filter.MinBalance)
	}
	if filter.MaxBalance != nil {
		p.add("balance <= $%d", *filter.MaxBalance)
	}
	if filter.UserID != nil {
		p.add("user_id = $%d", *filter.UserID)
	}
	if filter.CreatedFrom != nil {
		p.add("created_at >= $%d", *filter.CreatedFrom)
	}
	if filter.CreatedTo != nil {
		p.add("created_at <= $%d", *filter.CreatedTo)
	}
	if filter.UpdatedFrom != nil {
		p.add("updated_at >= $%d", *filter.UpdatedFrom)
	}
	if filter.UpdatedTo != nil {
		p.add("updated_at <= $%d", *filter.UpdatedTo)
	}

	var where strings.Builder
	where.WriteString(" WHERE 1=1")
	for _, c := range p.clauses {
		where.WriteString(" AND ")
		where.WriteString(c)
	}

	count := "SELECT COUNT(*) FROM cards" + where.String()

	var sel strings.Builder
	sel.WriteString("SELECT " + cardColumns + " FROM cards")
	sel.WriteString(where.String())
	if len(page.Sort) > 0 {
		orders := make([]string, 0, len(page.Sort))
		for _, o := range page.Sort {
			col, _ := SortColumn(o.Field)
			orders = append(orders, col+" "+string(o.Direction))
		}
		sel.WriteString(" ORDER BY " + strings.Join(orders, ", "))
	}

	selectArgs := append(append([]any{}, p.args...), page.Size, page.Offset())
	fmt.Fprintf(&sel, " LIMIT $%d OFFSET $%d", len(p.args)+1, len(p.args)+2)

	return CardQuery{
		Select:     sel.String(),
		SelectArgs: selectArgs,
		Count:      count,
		CountArgs:  p.args,
	}, nil
}
