package models

var fulfillmentRank = map[OrderStatus]int{
	StatusConfirmed:      0,
	StatusProcessing:     1,
	StatusShipped:        2,
	StatusOutForDelivery: 3,
	StatusDelivered:      4,
}

func (s OrderStatus) Valid() bool {
	if s == StatusCancelled {
		return true
	}
	_, ok := fulfillmentRank[s]
	return ok
}

// IsTerminal reports whether no further transition is allowed out of s.
func (s OrderStatus) IsTerminal() bool {
	return s == StatusDelivered || s == StatusCancelled
}

// CanTransition reports whether an order may move from one fulfillment status
// to another. Moves are forward only; cancellation is allowed from any
// non-terminal status.
func CanTransition(from, to OrderStatus) bool {
	if !from.Valid() || !to.Valid() || from.IsTerminal() {
		return false
	}
	if to == StatusCancelled {
		return true
	}
	return fulfillmentRank[to] > fulfillmentRank[from]
}

func (s PaymentStatus) Valid() bool {
	switch s {
	case PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded:
		return true
	default:
		return false
	}
}

// CanAdvanceTo reports whether a late payment observation may overwrite the
// stored payment status. Completed and refunded payments never regress.
func (s PaymentStatus) CanAdvanceTo(next PaymentStatus) bool {
	if s == next {
		return false
	}
	switch s {
	case PaymentPending:
		return next == PaymentCompleted || next == PaymentFailed
	case PaymentFailed:
		return next == PaymentCompleted
	case PaymentCompleted:
		return next == PaymentRefunded
	default:
		return false
	}
}

// PaymentSourcesFor lists the stored statuses that may advance to next.
func PaymentSourcesFor(next PaymentStatus) []PaymentStatus {
	var sources []PaymentStatus
	for _, s := range []PaymentStatus{PaymentPending, PaymentCompleted, PaymentFailed, PaymentRefunded} {
		if s.CanAdvanceTo(next) {
			sources = append(sources, s)
		}
	}
	return sources
}
