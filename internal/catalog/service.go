package catalog

import (
	"context"
	"fmt"
	"path"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
	"github.com/ariefcatur/go-order-ledger/internal/assets"
	"github.com/ariefcatur/go-order-ledger/internal/identity"
	"github.com/ariefcatur/go-order-ledger/internal/inventory"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
)

type Image struct {
	Filename    string
	ContentType string
	Data        []byte
}

type NewProduct struct {
	Name          string
	Category      string
	PriceCents    int
	StockQuantity int
	Image         *Image
}

// Service answers product lookups for the order path and runs product
// registration. Current stock always comes from the ledger.
type Service struct {
	repo   Repository
	ledger inventory.Ledger
	assets assets.Store
	log    *zap.Logger
	now    func() time.Time
}

// NewService wires the catalog. store may be nil when image upload is not
// configured; registering a product with an image then fails.
func NewService(repo Repository, ledger inventory.Ledger, store assets.Store, log *zap.Logger) *Service {
	return &Service{repo: repo, ledger: ledger, assets: store, log: logger.OrNop(log), now: time.Now}
}

func (s *Service) Lookup(ctx context.Context, id string) (Product, error) {
	p, err := s.repo.Get(ctx, id)
	if err != nil {
		return Product{}, err
	}
	n, err := s.ledger.Available(ctx, id)
	if err != nil {
		return Product{}, err
	}
	p.StockQuantity = n
	return p, nil
}

func (s *Service) Search(ctx context.Context, f Filter) (Page, error) {
	f, err := f.normalize()
	if err != nil {
		return Page{}, err
	}
	items, total, err := s.repo.Search(ctx, f)
	if err != nil {
		return Page{}, err
	}
	for i := range items {
		n, err := s.ledger.Available(ctx, items[i].ID)
		if err != nil {
			s.log.Warn("stock lookup failed", zap.String("product_id", items[i].ID), zap.Error(err))
			continue
		}
		items[i].StockQuantity = n
	}
	if items == nil {
		items = []Product{}
	}
	return Page{Items: items, Total: total, Page: f.Page, Size: f.Size}, nil
}

func (s *Service) Register(ctx context.Context, caller identity.Principal, in NewProduct) (Product, error) {
	if !caller.IsAdmin() {
		return Product{}, fmt.Errorf("register product: %w", apperr.ErrForbidden)
	}
	in.Name = strings.TrimSpace(in.Name)
	if in.Name == "" || in.PriceCents < 0 || in.StockQuantity < 0 {
		return Product{}, fmt.Errorf("register product: name, price and stock are required: %w", apperr.ErrInvalidInput)
	}

	p := Product{
		ID:            uuid.NewString(),
		Name:          in.Name,
		Category:      strings.TrimSpace(in.Category),
		PriceCents:    in.PriceCents,
		StockQuantity: in.StockQuantity,
		CreatedAt:     s.now().UTC(),
	}

	// Upload first so a failed upload leaves nothing behind.
	if in.Image != nil && len(in.Image.Data) > 0 {
		if s.assets == nil {
			return Product{}, fmt.Errorf("image storage not configured: %w", apperr.ErrUnavailable)
		}
		key := p.ID + "_" + path.Base(in.Image.Filename)
		url, err := s.assets.Put(ctx, key, in.Image.ContentType, in.Image.Data)
		if err != nil {
			return Product{}, err
		}
		p.ImageURL = url
	}

	if err := s.repo.Insert(ctx, p); err != nil {
		return Product{}, err
	}
	if err := s.ledger.Init(ctx, p.ID, p.StockQuantity); err != nil {
		s.log.Error("ledger init failed, removing product", zap.String("product_id", p.ID), zap.Error(err))
		if derr := s.repo.Delete(context.WithoutCancel(ctx), p.ID); derr != nil {
			s.log.Error("product cleanup failed", zap.String("product_id", p.ID), zap.Error(derr))
		}
		return Product{}, err
	}
	s.log.Info("product registered", zap.String("product_id", p.ID), zap.Int("stock", p.StockQuantity))
	return p, nil
}
