package orders

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/ariefcatur/go-order-ledger/internal/apperr"
	"github.com/ariefcatur/go-order-ledger/internal/catalog"
	"github.com/ariefcatur/go-order-ledger/internal/identity"
	"github.com/ariefcatur/go-order-ledger/internal/inventory"
	"github.com/ariefcatur/go-order-ledger/internal/logger"
	"github.com/ariefcatur/go-order-ledger/internal/notify"
)

// Products resolves product ids for the order path.
type Products interface {
	Lookup(ctx context.Context, id string) (catalog.Product, error)
}

type Options struct {
	// AdminTarget is the identity order notifications are addressed to.
	AdminTarget   string
	NotifyTimeout time.Duration
	Logger        *zap.Logger
}

// Service places, cancels and lists orders. Stock only moves through the
// ledger; the store only ever sees orders whose lines are fully reserved.
type Service struct {
	store    Store
	ledger   inventory.Ledger
	members  identity.Members
	products Products
	notifier notify.Publisher

	adminTarget   string
	notifyTimeout time.Duration
	log           *zap.Logger
	tracer        trace.Tracer
	now           func() time.Time

	pending sync.WaitGroup
}

// NewService wires the orchestrator. notifier may be nil.
func NewService(store Store, ledger inventory.Ledger, members identity.Members, products Products, notifier notify.Publisher, opt Options) *Service {
	if opt.NotifyTimeout <= 0 {
		opt.NotifyTimeout = 3 * time.Second
	}
	return &Service{
		store:         store,
		ledger:        ledger,
		members:       members,
		products:      products,
		notifier:      notifier,
		adminTarget:   opt.AdminTarget,
		notifyTimeout: opt.NotifyTimeout,
		log:           logger.OrNop(opt.Logger),
		tracer:        otel.Tracer("github.com/ariefcatur/go-order-ledger/internal/orders"),
		now:           time.Now,
	}
}

// CreateOrder reserves every line and persists the order. Either all lines
// end up reserved and committed, or stock is back where it was and nothing
// is stored.
func (s *Service) CreateOrder(ctx context.Context, caller identity.Principal, lines []Line) (_ OrderView, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.CreateOrder", trace.WithAttributes(attribute.Int("order.lines", len(lines))))
	defer func() { endSpan(span, err) }()

	if err := validateLines(lines); err != nil {
		return OrderView{}, err
	}
	member, err := s.members.FindByEmail(ctx, caller.Email)
	if err != nil {
		return OrderView{}, fmt.Errorf("create order: %w", err)
	}

	pr := s.newProjector()
	pr.emails[member.ID] = member.Email
	for _, l := range lines {
		if _, err := pr.productName(ctx, l.ProductID); err != nil {
			return OrderView{}, fmt.Errorf("create order: %w", err)
		}
	}

	reserved := make([]Line, 0, len(lines))
	for _, l := range lines {
		if err := s.ledger.Reserve(ctx, l.ProductID, l.Quantity); err != nil {
			s.releaseAll(ctx, reserved)
			return OrderView{}, fmt.Errorf("create order: %w", err)
		}
		reserved = append(reserved, l)
	}

	o := &Ordering{
		ID:        uuid.NewString(),
		MemberID:  member.ID,
		Status:    StatusOrdered,
		CreatedAt: s.now().UTC(),
	}
	for i, l := range lines {
		o.Details = append(o.Details, OrderDetail{
			ID:        uuid.NewString(),
			OrderID:   o.ID,
			LineNo:    i + 1,
			ProductID: l.ProductID,
			Quantity:  l.Quantity,
		})
	}
	span.SetAttributes(attribute.String("order.id", o.ID))

	if err := inTx(ctx, s.store, func(tx Tx) error { return tx.Insert(ctx, o) }); err != nil {
		s.releaseAll(ctx, reserved)
		if !errors.Is(err, apperr.ErrUnavailable) {
			err = fmt.Errorf("%v: %w", err, apperr.ErrUnavailable)
		}
		return OrderView{}, fmt.Errorf("create order: %w", err)
	}

	view, err := pr.view(ctx, o)
	if err != nil {
		return OrderView{}, err
	}
	s.log.Info("order created", zap.String("order_id", o.ID), zap.String("member_id", o.MemberID), zap.Int("lines", len(o.Details)))
	s.notifyAdmin(ctx, EventOrderCreated, view)
	return view, nil
}

// CancelOrder moves an order to CANCELED and gives its stock back. The
// status change commits first; a release that fails afterwards is logged
// and reported, and the order stays CANCELED.
func (s *Service) CancelOrder(ctx context.Context, caller identity.Principal, id string) (_ OrderView, err error) {
	ctx, span := s.tracer.Start(ctx, "orders.CancelOrder", trace.WithAttributes(attribute.String("order.id", id)))
	defer func() { endSpan(span, err) }()

	var callerID string
	if !caller.IsAdmin() {
		m, err := s.members.FindByEmail(ctx, caller.Email)
		if err != nil {
			return OrderView{}, fmt.Errorf("cancel order: %w", err)
		}
		callerID = m.ID
	}

	var o *Ordering
	err = inTx(ctx, s.store, func(tx Tx) error {
		cur, err := tx.LockByID(ctx, id)
		if err != nil {
			return err
		}
		if !caller.IsAdmin() && cur.MemberID != callerID {
			return fmt.Errorf("order %s belongs to another member: %w", id, apperr.ErrForbidden)
		}
		if !CanTransition(cur.Status, StatusCanceled) {
			return fmt.Errorf("order %s is %s: %w", id, cur.Status, apperr.ErrInvalidState)
		}
		if err := tx.SetStatus(ctx, id, StatusCanceled); err != nil {
			return err
		}
		cur.Status = StatusCanceled
		o = cur
		return nil
	})
	if err != nil {
		return OrderView{}, fmt.Errorf("cancel order: %w", err)
	}

	lines := make([]Line, len(o.Details))
	for i, d := range o.Details {
		lines[i] = Line{ProductID: d.ProductID, Quantity: d.Quantity}
	}
	if failed := s.releaseAll(ctx, lines); failed > 0 {
		return OrderView{}, fmt.Errorf("cancel order %s: %d of %d releases failed: %w", id, failed, len(lines), apperr.ErrUnavailable)
	}

	view, err := s.newProjector().view(ctx, o)
	if err != nil {
		return OrderView{}, err
	}
	s.log.Info("order canceled", zap.String("order_id", o.ID))
	s.notifyAdmin(ctx, EventOrderCanceled, view)
	return view, nil
}

// ListOrders returns every order. Admin only.
func (s *Service) ListOrders(ctx context.Context, caller identity.Principal) ([]OrderView, error) {
	if !caller.IsAdmin() {
		return nil, fmt.Errorf("list orders: %w", apperr.ErrForbidden)
	}
	list, err := s.store.ListAll(ctx)
	if err != nil {
		return nil, err
	}
	return s.newProjector().views(ctx, list)
}

// MyOrders returns the caller's own orders.
func (s *Service) MyOrders(ctx context.Context, caller identity.Principal) ([]OrderView, error) {
	m, err := s.members.FindByEmail(ctx, caller.Email)
	if err != nil {
		return nil, fmt.Errorf("my orders: %w", err)
	}
	list, err := s.store.ListByMember(ctx, m.ID)
	if err != nil {
		return nil, err
	}
	pr := s.newProjector()
	pr.emails[m.ID] = m.Email
	return pr.views(ctx, list)
}

// GetOrder returns one order to its owner or to an admin.
func (s *Service) GetOrder(ctx context.Context, caller identity.Principal, id string) (OrderView, error) {
	o, err := s.store.FindByID(ctx, id)
	if err != nil {
		return OrderView{}, err
	}
	if !caller.IsAdmin() {
		m, err := s.members.FindByEmail(ctx, caller.Email)
		if err != nil {
			return OrderView{}, err
		}
		if m.ID != o.MemberID {
			return OrderView{}, fmt.Errorf("order %s: %w", id, apperr.ErrForbidden)
		}
	}
	return s.newProjector().view(ctx, o)
}

// Wait blocks until every notification started so far has finished.
func (s *Service) Wait() { s.pending.Wait() }

// releaseAll gives back each line and returns how many releases failed.
// Cancellation of ctx does not stop it.
func (s *Service) releaseAll(ctx context.Context, lines []Line) int {
	ctx = context.WithoutCancel(ctx)
	failed := 0
	for _, l := range lines {
		if err := s.ledger.Release(ctx, l.ProductID, l.Quantity); err != nil {
			failed++
			s.log.Error("stock release failed",
				zap.String("product_id", l.ProductID), zap.Int("quantity", l.Quantity), zap.Error(err))
		}
	}
	return failed
}

// notifyAdmin publishes in the background. Failures are logged only.
func (s *Service) notifyAdmin(ctx context.Context, name string, v OrderView) {
	if s.notifier == nil {
		return
	}
	data, err := json.Marshal(v)
	if err != nil {
		s.log.Warn("encode notification", zap.String("order_id", v.ID), zap.Error(err))
		return
	}
	ev := notify.Event{Name: name, Key: v.ID, Data: data}
	ctx = context.WithoutCancel(ctx)

	s.pending.Add(1)
	go func() {
		defer s.pending.Done()
		defer func() {
			if r := recover(); r != nil {
				s.log.Error("notification panicked", zap.String("order_id", v.ID), zap.Any("panic", r))
			}
		}()
		ctx, cancel := context.WithTimeout(ctx, s.notifyTimeout)
		defer cancel()
		if err := s.notifier.Publish(ctx, s.adminTarget, ev); err != nil {
			s.log.Warn("order notification failed",
				zap.String("order_id", v.ID), zap.String("event", name),
				zap.String("target", s.adminTarget), zap.Error(err))
		}
	}()
}

func validateLines(lines []Line) error {
	if len(lines) == 0 {
		return fmt.Errorf("order needs at least one line: %w", apperr.ErrInvalidInput)
	}
	for i, l := range lines {
		if l.ProductID == "" || l.Quantity <= 0 {
			return fmt.Errorf("line %d: product and positive quantity required: %w", i+1, apperr.ErrInvalidInput)
		}
	}
	return nil
}

func endSpan(span trace.Span, err error) {
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, err.Error())
	}
	span.End()
}
