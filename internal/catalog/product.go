package catalog

import (
	"context"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
)

type Product struct {
	ID            string    `json:"id"`
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	PriceCents    int       `json:"price_cents"`
	StockQuantity int       `json:"stock_quantity"`
	ImageURL      string    `json:"image_url,omitempty"`
	CreatedAt     time.Time `json:"created_at"`
}

// Filter is the complete set of search criteria. Empty fields match
// everything.
type Filter struct {
	Category     string
	NameContains string
	Page         int
	Size         int
}

const (
	defaultPageSize = 20
	maxPageSize     = 100
)

// normalize applies paging defaults and rejects a page whose offset would
// not fit in an int.
func (f Filter) normalize() (Filter, error) {
	f.Category = strings.TrimSpace(f.Category)
	f.NameContains = strings.TrimSpace(f.NameContains)
	if f.Page < 0 {
		f.Page = 0
	}
	if f.Size <= 0 {
		f.Size = defaultPageSize
	}
	if f.Size > maxPageSize {
		f.Size = maxPageSize
	}
	if f.Page > math.MaxInt/f.Size-1 {
		return Filter{}, fmt.Errorf("page %d out of range: %w", f.Page, apperr.ErrInvalidInput)
	}
	return f, nil
}

func (f Filter) offset() int { return f.Page * f.Size }

func (f Filter) matches(p Product) bool {
	if f.Category != "" && p.Category != f.Category {
		return false
	}
	if f.NameContains != "" && !strings.Contains(strings.ToLower(p.Name), strings.ToLower(f.NameContains)) {
		return false
	}
	return true
}

type Page struct {
	Items []Product `json:"items"`
	Total int       `json:"total"`
	Page  int       `json:"page"`
	Size  int       `json:"size"`
}

type Repository interface {
	Get(ctx context.Context, id string) (Product, error)
	Search(ctx context.Context, f Filter) ([]Product, int, error)
	Insert(ctx context.Context, p Product) error
	Delete(ctx context.Context, id string) error
}
