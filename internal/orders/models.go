package orders

import "time"

// Line is one requested (product, quantity) pair, in the order the caller
// listed it.
type Line struct {
	ProductID string `json:"product_id"`
	Quantity  int    `json:"quantity"`
}

// OrderDetail is a line item. Quantity is the amount reserved when the order
// was placed and is never rewritten.
type OrderDetail struct {
	ID        string
	OrderID   string
	LineNo    int
	ProductID string
	Quantity  int
}

// Ordering owns its details. Members are referenced by id only; the reverse
// direction is a query (Store.ListByMember).
type Ordering struct {
	ID        string
	MemberID  string
	Status    Status
	Details   []OrderDetail
	CreatedAt time.Time
}

func (o *Ordering) clone() *Ordering {
	cp := *o
	cp.Details = append([]OrderDetail(nil), o.Details...)
	return &cp
}
