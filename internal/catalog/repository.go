package catalog

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
)

// Both statements take the same four parameters; an empty string disables
// the corresponding criterion.
const (
	searchSQL = `SELECT id, name, category, price_cents, stock_quantity, image_url, created_at
		FROM products
		WHERE ($1 = '' OR category = $1)
		  AND ($2 = '' OR name ILIKE '%' || $2 || '%' ESCAPE '\')
		ORDER BY created_at DESC, id
		LIMIT $3 OFFSET $4`
	countSQL = `SELECT COUNT(*) FROM products
		WHERE ($1 = '' OR category = $1)
		  AND ($2 = '' OR name ILIKE '%' || $2 || '%' ESCAPE '\')`
)

var likeEscaper = strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)

type PGRepository struct{ DB *pgxpool.Pool }

func (r *PGRepository) Get(ctx context.Context, id string) (Product, error) {
	var p Product
	err := r.DB.QueryRow(ctx, `SELECT id, name, category, price_cents, stock_quantity, image_url, created_at
		FROM products WHERE id=$1`, id).
		Scan(&p.ID, &p.Name, &p.Category, &p.PriceCents, &p.StockQuantity, &p.ImageURL, &p.CreatedAt)
	if errors.Is(err, pgx.ErrNoRows) {
		return Product{}, fmt.Errorf("product %s: %w", id, apperr.ErrNotFound)
	}
	if err != nil {
		return Product{}, fmt.Errorf("product %s: %v: %w", id, err, apperr.ErrUnavailable)
	}
	return p, nil
}

func (r *PGRepository) Search(ctx context.Context, f Filter) ([]Product, int, error) {
	name := likeEscaper.Replace(f.NameContains)

	var total int
	if err := r.DB.QueryRow(ctx, countSQL, f.Category, name).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count products: %v: %w", err, apperr.ErrUnavailable)
	}

	rows, err := r.DB.Query(ctx, searchSQL, f.Category, name, f.Size, f.offset())
	if err != nil {
		return nil, 0, fmt.Errorf("search products: %v: %w", err, apperr.ErrUnavailable)
	}
	defer rows.Close()

	var out []Product
	for rows.Next() {
		var p Product
		if err := rows.Scan(&p.ID, &p.Name, &p.Category, &p.PriceCents, &p.StockQuantity, &p.ImageURL, &p.CreatedAt); err != nil {
			return nil, 0, fmt.Errorf("scan product: %v: %w", err, apperr.ErrUnavailable)
		}
		out = append(out, p)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("search products: %v: %w", err, apperr.ErrUnavailable)
	}
	return out, total, nil
}

func (r *PGRepository) Insert(ctx context.Context, p Product) error {
	_, err := r.DB.Exec(ctx, `INSERT INTO products(id, name, category, price_cents, stock_quantity, image_url, created_at)
		VALUES ($1,$2,$3,$4,$5,$6,$7)`,
		p.ID, p.Name, p.Category, p.PriceCents, p.StockQuantity, p.ImageURL, p.CreatedAt)
	if err != nil {
		return fmt.Errorf("insert product: %v: %w", err, apperr.ErrUnavailable)
	}
	return nil
}

func (r *PGRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.DB.Exec(ctx, `DELETE FROM products WHERE id=$1`, id); err != nil {
		return fmt.Errorf("delete product %s: %v: %w", id, err, apperr.ErrUnavailable)
	}
	return nil
}

type MemoryRepository struct {
	mu   sync.RWMutex
	byID map[string]Product
}

func NewMemoryRepository() *MemoryRepository {
	return &MemoryRepository{byID: map[string]Product{}}
}

func (r *MemoryRepository) Get(_ context.Context, id string) (Product, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	p, ok := r.byID[id]
	if !ok {
		return Product{}, fmt.Errorf("product %s: %w", id, apperr.ErrNotFound)
	}
	return p, nil
}

func (r *MemoryRepository) Search(_ context.Context, f Filter) ([]Product, int, error) {
	r.mu.RLock()
	matched := make([]Product, 0, len(r.byID))
	for _, p := range r.byID {
		if f.matches(p) {
			matched = append(matched, p)
		}
	}
	r.mu.RUnlock()

	sort.Slice(matched, func(i, j int) bool {
		if !matched[i].CreatedAt.Equal(matched[j].CreatedAt) {
			return matched[i].CreatedAt.After(matched[j].CreatedAt)
		}
		return matched[i].ID < matched[j].ID
	})
	total := len(matched)
	start := f.offset()
	if start >= total {
		return nil, total, nil
	}
	end := start + f.Size
	if end > total {
		end = total
	}
	return matched[start:end], total, nil
}

func (r *MemoryRepository) Insert(_ context.Context, p Product) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.byID[p.ID]; ok {
		return fmt.Errorf("product %s already exists: %w", p.ID, apperr.ErrInvalidInput)
	}
	r.byID[p.ID] = p
	return nil
}

func (r *MemoryRepository) Delete(_ context.Context, id string) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.byID, id)
	return nil
}
