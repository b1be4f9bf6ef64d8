package orders

type Status string

const (
	StatusPending   Status = "pending"
	StatusConfirmed Status = "confirmed"
	StatusShipped   Status = "shipped"
	StatusDelivered Status = "delivered"
	StatusCancelled Status = "cancelled"
)

type PaymentStatus string

const (
	PaymentPending  PaymentStatus = "pending"
	PaymentPaid     PaymentStatus = "paid"
	PaymentFailed   PaymentStatus = "failed"
	PaymentRefunded PaymentStatus = "refunded"
)

var validNext = map[Status]map[Status]bool{
	StatusPending:   {StatusConfirmed: true, StatusCancelled: true},
	StatusConfirmed: {StatusShipped: true, StatusCancelled: true},
	StatusShipped:   {StatusDelivered: true},
	StatusDelivered: {},
	StatusCancelled: {},
}

func (s Status) Valid() bool {
	_, ok := validNext[s]
	return ok
}

// Cancellable reports whether an order in s still holds reserved stock that
// a cancellation would release.
func (s Status) Cancellable() bool { return validNext[s][StatusCancelled] }

// HoldsStock is false once stock effects are final: delivered stock is gone,
// cancelled stock was already returned.
func (s Status) HoldsStock() bool { return s != StatusDelivered && s != StatusCancelled }

func CanTransition(from, to Status) bool {
	return validNext[from][to]
}

func (p PaymentStatus) Valid() bool {
	switch p {
	case PaymentPending, PaymentPaid, PaymentFailed, PaymentRefunded:
		return true
	}
	return false
}
