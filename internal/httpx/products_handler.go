package httpx

import (
	"context"
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-ledger/internal/catalog"
)

type ProductsHandler struct {
	Catalog *catalog.Service
	Log     *zap.Logger
}

type imageReq struct {
	Filename    string `json:"filename"`
	ContentType string `json:"content_type"`
	Data        []byte `json:"data"` // base64 in JSON
}

type createProductReq struct {
	Name          string    `json:"name"`
	Category      string    `json:"category"`
	PriceCents    int       `json:"price_cents"`
	StockQuantity int       `json:"stock_quantity"`
	Image         *imageReq `json:"image,omitempty"`
}

func (h *ProductsHandler) Register(r chi.Router) {
	r.Get("/products", h.listProducts)
	r.Post("/products", h.createProduct)
}

func (h *ProductsHandler) listProducts(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	f := catalog.Filter{
		Category:     q.Get("category"),
		NameContains: q.Get("name"),
		Page:         atoiOr(q.Get("page"), 0),
		Size:         atoiOr(q.Get("size"), 0),
	}

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	page, err := h.Catalog.Search(ctx, f)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, page)
}

func (h *ProductsHandler) createProduct(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req createProductReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "INVALID_INPUT"})
		return
	}
	in := catalog.NewProduct{
		Name:          req.Name,
		Category:      req.Category,
		PriceCents:    req.PriceCents,
		StockQuantity: req.StockQuantity,
	}
	if req.Image != nil {
		in.Image = &catalog.Image{Filename: req.Image.Filename, ContentType: req.Image.ContentType, Data: req.Image.Data}
	}

	ctx, cancel := context.WithTimeout(r.Context(), 10*time.Second)
	defer cancel()

	p, err := h.Catalog.Register(ctx, who, in)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusCreated, p)
}

func atoiOr(s string, def int) int {
	n, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return n
}
