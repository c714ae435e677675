package catalog

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
	"github.com/ariefcatur/go-order-ledger/internal/assets"
	"github.com/ariefcatur/go-order-ledger/internal/identity"
	"github.com/ariefcatur/go-order-ledger/internal/inventory"
)

var admin = identity.Principal{Email: "admin@example.com", Role: identity.RoleAdmin}

type fakeAssets struct {
	keys []string
	err  error
}

func (f *fakeAssets) Put(_ context.Context, key, _ string, _ []byte) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.keys = append(f.keys, key)
	return "https://cdn.example.com/" + key, nil
}

func newTestService(store assets.Store) (*Service, *MemoryRepository, *inventory.MemoryLedger) {
	repo := NewMemoryRepository()
	ledger := inventory.NewMemoryLedger()
	svc := NewService(repo, ledger, store, nil)
	tick := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)
	svc.now = func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	return svc, repo, ledger
}

func TestRegisterSeedsLedgerAndUploadsImage(t *testing.T) {
	ctx := context.Background()
	store := &fakeAssets{}
	svc, _, ledger := newTestService(store)

	p, err := svc.Register(ctx, admin, NewProduct{
		Name: "Croissant", Category: "bread", PriceCents: 350, StockQuantity: 12,
		Image: &Image{Filename: "../../c.png", ContentType: "image/png", Data: []byte{1}},
	})
	require.NoError(t, err)
	assert.Equal(t, "https://cdn.example.com/"+p.ID+"_c.png", p.ImageURL)

	n, err := ledger.Available(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, 12, n)

	got, err := svc.Lookup(ctx, p.ID)
	require.NoError(t, err)
	assert.Equal(t, "Croissant", got.Name)
	assert.Equal(t, 12, got.StockQuantity)
}

func TestRegisterRejections(t *testing.T) {
	ctx := context.Background()
	svc, repo, _ := newTestService(&fakeAssets{err: errors.New("s3 down")})

	_, err := svc.Register(ctx, identity.Principal{Email: "u@example.com", Role: identity.RoleUser}, NewProduct{Name: "x"})
	assert.ErrorIs(t, err, apperr.ErrForbidden)

	_, err = svc.Register(ctx, admin, NewProduct{Name: "  ", StockQuantity: 1})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = svc.Register(ctx, admin, NewProduct{Name: "bad", StockQuantity: -1})
	assert.ErrorIs(t, err, apperr.ErrInvalidInput)

	_, err = svc.Register(ctx, admin, NewProduct{
		Name: "Bagel", StockQuantity: 3,
		Image: &Image{Filename: "b.png", Data: []byte{1}},
	})
	require.Error(t, err)

	_, total, _ := repo.Search(ctx, Filter{Size: defaultPageSize})
	assert.Zero(t, total, "failed upload must not create a product")
}

func TestSearchFilterAndPaging(t *testing.T) {
	ctx := context.Background()
	svc, _, ledger := newTestService(&fakeAssets{})

	for _, np := range []NewProduct{
		{Name: "Rye Bread", Category: "bread", StockQuantity: 1},
		{Name: "Sourdough Bread", Category: "bread", StockQuantity: 2},
		{Name: "Cheesecake", Category: "cake", StockQuantity: 3},
		{Name: "Bread Pudding", Category: "dessert", StockQuantity: 4},
	} {
		_, err := svc.Register(ctx, admin, np)
		require.NoError(t, err)
	}

	page, err := svc.Search(ctx, Filter{Category: "bread"})
	require.NoError(t, err)
	assert.Equal(t, 2, page.Total)
	assert.Equal(t, defaultPageSize, page.Size)

	page, err = svc.Search(ctx, Filter{NameContains: "bread"})
	require.NoError(t, err)
	assert.Equal(t, 3, page.Total)

	page, err = svc.Search(ctx, Filter{Category: "bread", NameContains: "sour"})
	require.NoError(t, err)
	require.Len(t, page.Items, 1)
	assert.Equal(t, "Sourdough Bread", page.Items[0].Name)

	// newest first, two per page
	page, err = svc.Search(ctx, Filter{Size: 2, Page: 1})
	require.NoError(t, err)
	assert.Equal(t, 4, page.Total)
	require.Len(t, page.Items, 2)
	assert.Equal(t, "Sourdough Bread", page.Items[0].Name)
	assert.Equal(t, "Rye Bread", page.Items[1].Name)

	// stock shown is the ledger's, not the registration value
	require.NoError(t, ledger.Reserve(ctx, page.Items[1].ID, 1))
	page, err = svc.Search(ctx, Filter{NameContains: "rye"})
	require.NoError(t, err)
	assert.Equal(t, 0, page.Items[0].StockQuantity)

	page, err = svc.Search(ctx, Filter{Page: 9})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.NotNil(t, page.Items)
}

func TestSearchRejectsOverflowingPage(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(&fakeAssets{})
	_, err := svc.Register(ctx, admin, NewProduct{Name: "Rye", StockQuantity: 1})
	require.NoError(t, err)

	for _, f := range []Filter{
		{Page: math.MaxInt/20 + 1, Size: 20},
		{Page: math.MaxInt, Size: 1},
		{Page: math.MaxInt / defaultPageSize},
	} {
		assert.NotPanics(t, func() {
			_, err = svc.Search(ctx, f)
		})
		assert.ErrorIs(t, err, apperr.ErrInvalidInput, "page %d size %d", f.Page, f.Size)
	}

	page, err := svc.Search(ctx, Filter{Page: math.MaxInt/20 - 2, Size: 20})
	require.NoError(t, err)
	assert.Empty(t, page.Items)
	assert.Equal(t, 1, page.Total)
}

type failingInit struct{ *inventory.MemoryLedger }

func (failingInit) Init(context.Context, string, int) error {
	return errors.New("ledger down")
}

func TestRegisterRemovesProductWhenLedgerInitFails(t *testing.T) {
	ctx := context.Background()
	repo := NewMemoryRepository()
	svc := NewService(repo, failingInit{inventory.NewMemoryLedger()}, nil, nil)

	_, err := svc.Register(ctx, admin, NewProduct{Name: "Brioche", StockQuantity: 5})
	require.Error(t, err)

	_, total, err := repo.Search(ctx, Filter{Size: defaultPageSize})
	require.NoError(t, err)
	assert.Zero(t, total)
}

func TestLookupUnknown(t *testing.T) {
	svc, _, _ := newTestService(nil)
	_, err := svc.Lookup(context.Background(), "nope")
	assert.ErrorIs(t, err, apperr.ErrNotFound)
}
