package domain

import "errors"

var (
	ErrNotFound            = errors.New("not found")
	ErrOrderNotCancellable = errors.New("order not cancellable")
	ErrForbidden           = errors.New("forbidden")
	ErrInternal            = errors.New("internal engine error")
)

// RejectReason identifies why an order was refused at admission. Rejected
// orders never touch the book.
type RejectReason string

const (
	RejectQuantityBelowMin   RejectReason = "quantity_below_min"
	RejectQuantityAboveMax   RejectReason = "quantity_above_max"
	RejectPriceOutOfRange    RejectReason = "price_out_of_range"
	RejectPriceNotTickAligned RejectReason = "price_not_tick_aligned"
	RejectExpiryInPast       RejectReason = "expiry_in_past"
	RejectPostOnlyWouldCross RejectReason = "post_only_would_cross"
	RejectFOKInsufficient    RejectReason = "fok_insufficient_liquidity"
	RejectNoLiquidity        RejectReason = "no_liquidity"
	RejectInvalidRequest     RejectReason = "invalid_request"
)

// Rejection is the typed error returned for admission-time failures. Callers
// unwrap it with errors.As to surface the specific reason.
type Rejection struct {
	Reason RejectReason
	Detail string
}

func (r *Rejection) Error() string {
	if r.Detail == "" {
		return "order rejected: " + string(r.Reason)
	}
	return "order rejected: " + string(r.Reason) + ": " + r.Detail
}

// Reject builds a Rejection error.
func Reject(reason RejectReason, detail string) *Rejection {
	return &Rejection{Reason: reason, Detail: detail}
}

// AsRejection extracts a Rejection from an error chain.
func AsRejection(err error) (*Rejection, bool) {
	var r *Rejection
	if errors.As(err, &r) {
		return r, true
	}
	return nil, false
}
