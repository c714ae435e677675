package httpx

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
	"github.com/ariefcatur/go-order-ledger/internal/identity"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
	"github.com/ariefcatur/go-order-ledger/internal/redisx"
)

// OrdersHandler serves the order routes. Redis is optional; without it
// there is no Idempotency-Key support and no view cache.
type OrdersHandler struct {
	Orders *orders.Service
	Redis  redis.UniversalClient
	Log    *zap.Logger
}

type createOrderReq struct {
	Lines []orders.Line `json:"lines"`
}

func (h *OrdersHandler) Register(r chi.Router) {
	r.Route("/orders", func(r chi.Router) {
		r.Post("/", h.createOrder)
		r.Get("/", h.listOrders)
		r.Get("/mine", h.myOrders)
		r.Get("/{id}", h.getOrder)
		r.Post("/{id}/cancel", h.cancelOrder)
	})
}

func (h *OrdersHandler) createOrder(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	var req createOrderReq
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid json", Code: "INVALID_INPUT"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	// Fast-path idempotency: first request claims the key with "pending",
	// a replay either waits on it (409) or gets the stored order back.
	var idemKey string
	if k := r.Header.Get("Idempotency-Key"); k != "" && h.Redis != nil {
		idemKey = fmt.Sprintf(redisx.KeyIdemOrderCreate, who.Email, k)
		fresh, err := h.Redis.SetNX(ctx, idemKey, redisx.IdemPending, redisx.TTLIdempotency).Result()
		switch {
		case err != nil:
			h.log().Warn("idempotency claim failed", zap.String("key", idemKey), zap.Error(err))
			idemKey = ""
		case !fresh:
			h.replay(ctx, w, who, idemKey)
			return
		}
	}

	view, err := h.Orders.CreateOrder(ctx, who, req.Lines)
	if err != nil {
		if idemKey != "" {
			_ = h.Redis.Del(context.WithoutCancel(ctx), idemKey).Err()
		}
		writeError(w, h.Log, err)
		return
	}
	if idemKey != "" {
		if err := h.Redis.Set(ctx, idemKey, view.ID, redisx.TTLIdempotency).Err(); err != nil {
			// a stale "pending" would answer 409 to every retry
			h.log().Warn("idempotency record failed, releasing key",
				zap.String("key", idemKey), zap.String("order_id", view.ID), zap.Error(err))
			_ = h.Redis.Del(context.WithoutCancel(ctx), idemKey).Err()
		}
	}
	h.cache(ctx, view)
	writeJSON(w, http.StatusCreated, view)
}

func (h *OrdersHandler) replay(ctx context.Context, w http.ResponseWriter, who identity.Principal, key string) {
	orderID, err := h.Redis.Get(ctx, key).Result()
	if err != nil || orderID == redisx.IdemPending {
		writeJSON(w, http.StatusConflict, errorBody{Error: "request with this Idempotency-Key is in progress", Code: "IN_PROGRESS"})
		return
	}
	view, err := h.Orders.GetOrder(ctx, who, orderID)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	w.Header().Set("Idempotent-Replay", "true")
	writeJSON(w, http.StatusOK, view)
}

func (h *OrdersHandler) listOrders(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	views, err := h.Orders.ListOrders(ctx, who)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *OrdersHandler) myOrders(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	views, err := h.Orders.MyOrders(ctx, who)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	writeJSON(w, http.StatusOK, views)
}

func (h *OrdersHandler) getOrder(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 3*time.Second)
	defer cancel()

	// 1) cache
	if v, ok := h.cached(ctx, id); ok {
		if !who.IsAdmin() && v.MemberEmail != who.Email {
			writeError(w, h.Log, fmt.Errorf("order %s: %w", id, apperr.ErrForbidden))
			return
		}
		writeJSON(w, http.StatusOK, v)
		return
	}

	// 2) fallback store
	view, err := h.Orders.GetOrder(ctx, who, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.cache(ctx, view)
	writeJSON(w, http.StatusOK, view)
}

func (h *OrdersHandler) cancelOrder(w http.ResponseWriter, r *http.Request) {
	who, ok := caller(w, r)
	if !ok {
		return
	}
	id := chi.URLParam(r, "id")

	ctx, cancel := context.WithTimeout(r.Context(), 5*time.Second)
	defer cancel()

	view, err := h.Orders.CancelOrder(ctx, who, id)
	h.evict(ctx, id)
	if err != nil {
		writeError(w, h.Log, err)
		return
	}
	h.cache(ctx, view)
	writeJSON(w, http.StatusOK, view)
}

func (h *OrdersHandler) cached(ctx context.Context, id string) (orders.OrderView, bool) {
	if h.Redis == nil {
		return orders.OrderView{}, false
	}
	b, err := h.Redis.Get(ctx, fmt.Sprintf(redisx.KeyOrderStatus, id)).Bytes()
	if err != nil {
		if !errors.Is(err, redis.Nil) {
			h.log().Warn("order cache read failed", zap.String("order_id", id), zap.Error(err))
		}
		return orders.OrderView{}, false
	}
	var v orders.OrderView
	if err := json.Unmarshal(b, &v); err != nil {
		return orders.OrderView{}, false
	}
	return v, true
}

func (h *OrdersHandler) cache(ctx context.Context, v orders.OrderView) {
	if h.Redis == nil {
		return
	}
	b, err := json.Marshal(v)
	if err != nil {
		return
	}
	_ = h.Redis.Set(ctx, fmt.Sprintf(redisx.KeyOrderStatus, v.ID), b, redisx.TTLStatusCache).Err()
}

func (h *OrdersHandler) evict(ctx context.Context, id string) {
	if h.Redis == nil {
		return
	}
	_ = h.Redis.Del(context.WithoutCancel(ctx), fmt.Sprintf(redisx.KeyOrderStatus, id)).Err()
}

func (h *OrdersHandler) log() *zap.Logger { return logger.OrNop(h.Log) }
