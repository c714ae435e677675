package orders

import (
	"context"
	"fmt"
)

// projector turns orderings into views, caching names and emails across
// the orders of one call.
type projector struct {
	s      *Service
	names  map[string]string
	emails map[string]string
}

func (s *Service) newProjector() *projector {
	return &projector{s: s, names: make(map[string]string), emails: make(map[string]string)}
}

func (p *projector) productName(ctx context.Context, id string) (string, error) {
	if n, ok := p.names[id]; ok {
		return n, nil
	}
	prod, err := p.s.products.Lookup(ctx, id)
	if err != nil {
		return "", err
	}
	p.names[id] = prod.Name
	return prod.Name, nil
}

func (p *projector) memberEmail(ctx context.Context, id string) (string, error) {
	if e, ok := p.emails[id]; ok {
		return e, nil
	}
	m, err := p.s.members.FindByID(ctx, id)
	if err != nil {
		return "", err
	}
	p.emails[id] = m.Email
	return m.Email, nil
}

func (p *projector) view(ctx context.Context, o *Ordering) (OrderView, error) {
	email, err := p.memberEmail(ctx, o.MemberID)
	if err != nil {
		return OrderView{}, fmt.Errorf("order %s: %w", o.ID, err)
	}
	v := OrderView{
		ID:          o.ID,
		MemberEmail: email,
		Status:      string(o.Status),
		CreatedAt:   o.CreatedAt,
		Lines:       make([]DetailView, 0, len(o.Details)),
	}
	for _, d := range o.Details {
		name, err := p.productName(ctx, d.ProductID)
		if err != nil {
			return OrderView{}, fmt.Errorf("order %s: %w", o.ID, err)
		}
		v.Lines = append(v.Lines, DetailView{ID: d.ID, ProductID: d.ProductID, ProductName: name, Quantity: d.Quantity})
	}
	return v, nil
}

func (p *projector) views(ctx context.Context, list []*Ordering) ([]OrderView, error) {
	out := make([]OrderView, 0, len(list))
	for _, o := range list {
		v, err := p.view(ctx, o)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}
