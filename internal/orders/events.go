package orders

import "time"

const (
	EventOrderCreated  = "OrderCreated"
	EventOrderCanceled = "OrderCanceled"
)

// OrderView is the response and event payload shape of an order.
type OrderView struct {
	ID          string       `json:"id"`
	MemberEmail string       `json:"member_email"`
	Status      string       `json:"status"`
	CreatedAt   time.Time    `json:"created_at"`
	Lines       []DetailView `json:"lines"`
}

type DetailView struct {
	ID          string `json:"id"`
	ProductID   string `json:"product_id"`
	ProductName string `json:"product_name"`
	Quantity    int    `json:"quantity"`
}
