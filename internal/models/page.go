package models

const (
	DefaultPageSize = 20
	MaxPageSize     = 100
)

// SortDirection is ASC or DESC
type SortDirection string

const (
	SortAsc  SortDirection = "ASC"
	SortDesc SortDirection = "DESC"
)

// SortOrder sorts by a card field name such as "balance" or "userId"
type SortOrder struct {
	Field     string
	Direction SortDirection
}

// PageRequest selects a page of Size items starting at Number*Size
type PageRequest struct {
	Number int
	Size   int
	Sort   []SortOrder
}

// Offset returns the first row index of the page
func (p PageRequest) Offset() int {
	return p.Number * p.Size
}

// PageMetadata describes the position of a page in the full result
type PageMetadata struct {
	Size          int   `json:"size"`
	Number        int   `json:"number"`
	TotalElements int64 `json:"totalElements"`
	TotalPages    int64 `json:"totalPages"`
}

// CardPage is one page of a filtered card listing
type CardPage struct {
	Content  []CardView   `json:"content"`
	Metadata PageMetadata `json:"page"`
}

// NewPageMetadata computes page counts for total matching rows
func NewPageMetadata(p PageRequest, total int64) PageMetadata {
	var pages int64
	if p.Size > 0 {
		pages = (total + int64(p.Size) - 1) / int64(p.Size)
	}
	return PageMetadata{Size: p.Size, Number: p.Number, TotalElements: total, TotalPages: pages}
}
