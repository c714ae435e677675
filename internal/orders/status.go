package orders

type Status string

const (
	StatusOrdered  Status = "ORDERED"
	StatusCanceled Status = "CANCELED"
)

var validNext = map[Status]map[Status]bool{
	StatusOrdered:  {StatusCanceled: true},
	StatusCanceled: {},
}

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}
