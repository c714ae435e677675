package httpx

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"slices"
	"strings"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ariefcatur/go-order-ledger/internal/catalog"
	"github.com/ariefcatur/go-order-ledger/internal/identity"
	"github.com/ariefcatur/go-order-ledger/internal/inventory"
	"github.com/ariefcatur/go-order-ledger/internal/notify"
	"github.com/ariefcatur/go-order-ledger/internal/orders"
)

const secret = "test-secret"

type env struct {
	srv     *httptest.Server
	hub     *notify.Hub
	ledger  *inventory.MemoryLedger
	mr      *miniredis.Miniredis
	rdb     *redis.Client
	tokens  map[string]string
	orders  *orders.Service
	product string
}

func newEnv(t *testing.T) *env {
	t.Helper()
	ctx := context.Background()

	ledger := inventory.NewMemoryLedger()
	repo := catalog.NewMemoryRepository()
	cat := catalog.NewService(repo, ledger, nil, nil)
	members := identity.NewMemoryMembers()
	members.Add("alice@example.com", identity.RoleUser)
	members.Add("bob@example.com", identity.RoleUser)
	members.Add("admin@example.com", identity.RoleAdmin)

	hub := notify.NewHub(8, nil)
	svc := orders.NewService(orders.NewMemoryStore(), ledger, members, cat, hub, orders.Options{AdminTarget: "admin@example.com"})

	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	res := identity.NewJWTResolver(secret)
	r := NewRouter(nil)
	Mount(r, res,
		&OrdersHandler{Orders: svc, Redis: rdb},
		&ProductsHandler{Catalog: cat},
		&EventsHandler{Hub: hub, Heartbeat: 20 * time.Millisecond},
	)
	srv := httptest.NewServer(r)
	t.Cleanup(srv.Close)
	t.Cleanup(svc.Wait)

	tokens := map[string]string{}
	for _, p := range []identity.Principal{
		{Email: "alice@example.com", Role: identity.RoleUser},
		{Email: "bob@example.com", Role: identity.RoleUser},
		{Email: "admin@example.com", Role: identity.RoleAdmin},
	} {
		tok, err := res.Issue(p, nil)
		require.NoError(t, err)
		tokens[strings.Split(p.Email, "@")[0]] = tok
	}

	p, err := cat.Register(ctx, identity.Principal{Email: "admin@example.com", Role: identity.RoleAdmin},
		catalog.NewProduct{Name: "Baguette", Category: "bread", PriceCents: 250, StockQuantity: 10})
	require.NoError(t, err)

	return &env{srv: srv, hub: hub, ledger: ledger, mr: mr, rdb: rdb, tokens: tokens, orders: svc, product: p.ID}
}

func (e *env) do(t *testing.T, method, path, who string, body any, hdr ...string) (*http.Response, []byte) {
	t.Helper()
	var rd *bytes.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	} else {
		rd = bytes.NewReader(nil)
	}
	req, err := http.NewRequest(method, e.srv.URL+path, rd)
	require.NoError(t, err)
	if who != "" {
		req.Header.Set("Authorization", "Bearer "+e.tokens[who])
	}
	for i := 0; i+1 < len(hdr); i += 2 {
		req.Header.Set(hdr[i], hdr[i+1])
	}
	resp, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	var buf bytes.Buffer
	_, err = buf.ReadFrom(resp.Body)
	require.NoError(t, err)
	return resp, buf.Bytes()
}

func (e *env) stock(t *testing.T) int {
	t.Helper()
	n, err := e.ledger.Available(context.Background(), e.product)
	require.NoError(t, err)
	return n
}

func decode[T any](t *testing.T, b []byte) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(b, &v), string(b))
	return v
}

func lines(product string, qty int) createOrderReq {
	return createOrderReq{Lines: []orders.Line{{ProductID: product, Quantity: qty}}}
}

func TestCreateAndCancelOverHTTP(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodPost, "/orders", "alice", lines(e.product, 3))
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	created := decode[orders.OrderView](t, body)
	assert.Equal(t, "ORDERED", created.Status)
	assert.Equal(t, "Baguette", created.Lines[0].ProductName)
	assert.Equal(t, 7, e.stock(t))

	resp, body = e.do(t, http.MethodGet, "/orders/"+created.ID, "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, created.ID, decode[orders.OrderView](t, body).ID)
	assert.True(t, e.mr.Exists("order_status:"+created.ID))

	resp, _ = e.do(t, http.MethodGet, "/orders/"+created.ID, "bob", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode, "cached view still checks ownership")

	resp, body = e.do(t, http.MethodPost, "/orders/"+created.ID+"/cancel", "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode, string(body))
	assert.Equal(t, "CANCELED", decode[orders.OrderView](t, body).Status)
	assert.Equal(t, 10, e.stock(t))

	resp, body = e.do(t, http.MethodPost, "/orders/"+created.ID+"/cancel", "alice", nil)
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INVALID_STATE", decode[errorBody](t, body).Code)

	resp, body = e.do(t, http.MethodGet, "/orders/"+created.ID, "alice", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "CANCELED", decode[orders.OrderView](t, body).Status)
}

func TestCreateErrorsMapToStatus(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, http.MethodPost, "/orders", "", lines(e.product, 1))
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)

	resp, body := e.do(t, http.MethodPost, "/orders", "alice", lines(e.product, 11))
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.Equal(t, "INSUFFICIENT_STOCK", decode[errorBody](t, body).Code)

	resp, _ = e.do(t, http.MethodPost, "/orders", "alice", lines("missing", 1))
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/orders", "alice", createOrderReq{})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)

	req, err := http.NewRequest(http.MethodPost, e.srv.URL+"/orders", strings.NewReader("{}"))
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer not-a-jwt")
	raw, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	raw.Body.Close()
	assert.Equal(t, http.StatusUnauthorized, raw.StatusCode)

	assert.Equal(t, 10, e.stock(t))
}

func TestIdempotencyKeyReplaysOrder(t *testing.T) {
	e := newEnv(t)

	resp, body := e.do(t, http.MethodPost, "/orders", "alice", lines(e.product, 2), "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	first := decode[orders.OrderView](t, body)

	resp, body = e.do(t, http.MethodPost, "/orders", "alice", lines(e.product, 2), "Idempotency-Key", "k-1")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "true", resp.Header.Get("Idempotent-Replay"))
	assert.Equal(t, first.ID, decode[orders.OrderView](t, body).ID)
	assert.Equal(t, 8, e.stock(t), "replay reserves nothing")

	require.NoError(t, e.mr.Set("idem:order:create:alice@example.com:k-2", "pending"))
	resp, _ = e.do(t, http.MethodPost, "/orders", "alice", lines(e.product, 2), "Idempotency-Key", "k-2")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)

	resp, _ = e.do(t, http.MethodPost, "/orders", "alice", lines(e.product, 50), "Idempotency-Key", "k-3")
	assert.Equal(t, http.StatusConflict, resp.StatusCode)
	assert.False(t, e.mr.Exists("idem:order:create:alice@example.com:k-3"), "failed create frees the key")
}

// refusePlainSet fails SET commands that are not SET NX, leaving the
// idempotency claim working while the order id write breaks.
type refusePlainSet struct{}

func (refusePlainSet) DialHook(next redis.DialHook) redis.DialHook { return next }

func (refusePlainSet) ProcessPipelineHook(next redis.ProcessPipelineHook) redis.ProcessPipelineHook {
	return next
}

func (refusePlainSet) ProcessHook(next redis.ProcessHook) redis.ProcessHook {
	return func(ctx context.Context, cmd redis.Cmder) error {
		if cmd.Name() == "set" && !slices.Contains(cmd.Args(), any("nx")) {
			err := errors.New("set refused")
			cmd.SetErr(err)
			return err
		}
		return next(ctx, cmd)
	}
}

var _ redis.Hook = refusePlainSet{}

func TestIdempotencyRecordFailureReleasesKey(t *testing.T) {
	e := newEnv(t)
	e.rdb.AddHook(refusePlainSet{})

	resp, body := e.do(t, http.MethodPost, "/orders", "alice", lines(e.product, 1), "Idempotency-Key", "k-9")
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	assert.False(t, e.mr.Exists("idem:order:create:alice@example.com:k-9"), "no stale pending claim")

	resp, body = e.do(t, http.MethodPost, "/orders", "alice", lines(e.product, 1), "Idempotency-Key", "k-9")
	assert.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
}

func TestOrderListings(t *testing.T) {
	e := newEnv(t)
	e.do(t, http.MethodPost, "/orders", "alice", lines(e.product, 1))
	e.do(t, http.MethodPost, "/orders", "bob", lines(e.product, 1))

	resp, _ := e.do(t, http.MethodGet, "/orders", "alice", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := e.do(t, http.MethodGet, "/orders", "admin", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Len(t, decode[[]orders.OrderView](t, body), 2)

	resp, body = e.do(t, http.MethodGet, "/orders/mine", "bob", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	mine := decode[[]orders.OrderView](t, body)
	require.Len(t, mine, 1)
	assert.Equal(t, "bob@example.com", mine[0].MemberEmail)
}

func TestProductRoutes(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, http.MethodPost, "/products", "alice", createProductReq{Name: "Rye", StockQuantity: 1})
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, body := e.do(t, http.MethodPost, "/products", "admin", createProductReq{Name: "Rye", Category: "bread", StockQuantity: 4})
	require.Equal(t, http.StatusCreated, resp.StatusCode, string(body))
	rye := decode[catalog.Product](t, body)
	assert.Equal(t, 4, rye.StockQuantity)

	resp, body = e.do(t, http.MethodPost, "/products", "admin", createProductReq{
		Name: "Bagel", StockQuantity: 1, Image: &imageReq{Filename: "b.png", Data: []byte{1, 2}},
	})
	assert.Equal(t, http.StatusServiceUnavailable, resp.StatusCode, "no image store configured")

	resp, body = e.do(t, http.MethodGet, "/products?category=bread&name=ry&size=5", "", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	page := decode[catalog.Page](t, body)
	assert.Equal(t, 1, page.Total)
	require.Len(t, page.Items, 1)
	assert.Equal(t, rye.ID, page.Items[0].ID)
	assert.Equal(t, 5, page.Size)

	resp, body = e.do(t, http.MethodGet, "/products?page=461168601842738791", "", nil)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode, string(body))
}

func TestEventStreamDeliversOrderCreated(t *testing.T) {
	e := newEnv(t)

	resp, _ := e.do(t, http.MethodGet, "/admin/events", "alice", nil)
	assert.Equal(t, http.StatusForbidden, resp.StatusCode)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, e.srv.URL+"/admin/events", nil)
	require.NoError(t, err)
	req.Header.Set("Authorization", "Bearer "+e.tokens["admin"])
	stream, err := http.DefaultClient.Do(req)
	require.NoError(t, err)
	defer stream.Body.Close()
	require.Equal(t, "text/event-stream", stream.Header.Get("Content-Type"))

	require.Eventually(t, func() bool { return e.hub.Subscribers("admin@example.com") == 1 }, time.Second, 5*time.Millisecond)

	_, body := e.do(t, http.MethodPost, "/orders", "alice", lines(e.product, 2))
	created := decode[orders.OrderView](t, body)

	sc := bufio.NewScanner(stream.Body)
	var got []string
	for sc.Scan() {
		line := sc.Text()
		if strings.HasPrefix(line, "event: ") || strings.HasPrefix(line, "data: ") {
			got = append(got, line)
		}
		if strings.HasPrefix(line, "data: ") {
			break
		}
	}
	require.Len(t, got, 2)
	assert.Equal(t, "event: "+orders.EventOrderCreated, got[0])
	assert.Equal(t, created.ID, decode[orders.OrderView](t, []byte(strings.TrimPrefix(got[1], "data: "))).ID)

	cancel()
	assert.Eventually(t, func() bool { return e.hub.Subscribers("admin@example.com") == 0 }, time.Second, 5*time.Millisecond)
}

func TestWriteEventKeepsMultilinePayloadInOneEvent(t *testing.T) {
	var b bytes.Buffer
	require.NoError(t, writeEvent(&b, notify.Event{
		Name: "OrderCreated",
		Key:  "o-1",
		Data: []byte("{\n  \"id\": \"o-1\"\r\n}"),
	}))
	assert.Equal(t, "event: OrderCreated\nid: o-1\ndata: {\ndata:   \"id\": \"o-1\"\ndata: }\n\n", b.String())
	assert.Equal(t, 1, strings.Count(b.String(), "\n\n"))
}
