package order

import "fmt"

// Trigger names an action that may move an order between statuses.
type Trigger string

const (
	TriggerPaymentAuthorized Trigger = "payment_authorized"
	TriggerExpire            Trigger = "expire"
	TriggerCancel            Trigger = "cancel"
	TriggerApprove           Trigger = "approve"
	TriggerStartProcessing   Trigger = "start_processing"
	TriggerShip              Trigger = "ship"
	TriggerDeliver           Trigger = "deliver"
	TriggerRefund            Trigger = "refund"
)

// Effect is the reservation side effect a transition carries. The state
// machine service applies it atomically with the status change.
type Effect int

const (
	EffectNone Effect = iota
	// EffectCommitReservations moves the order's held reservations to committed.
	EffectCommitReservations
	// EffectReleaseReservations moves the order's held reservations to released.
	EffectReleaseReservations
	// EffectReleaseCommitted returns committed reservations to available stock.
	EffectReleaseCommitted
)

type rule struct {
	To     Status
	Effect Effect
}

var transitions = map[Status]map[Trigger]rule{
	StatusAwaitingPayment: {
		TriggerPaymentAuthorized: {To: StatusPaid, Effect: EffectCommitReservations},
		TriggerExpire:            {To: StatusExpired, Effect: EffectReleaseReservations},
		TriggerCancel:            {To: StatusCancelled, Effect: EffectReleaseReservations},
	},
	StatusPaid: {
		TriggerApprove: {To: StatusApproved},
		TriggerRefund:  {To: StatusRefunded, Effect: EffectReleaseCommitted},
	},
	StatusApproved: {
		TriggerStartProcessing: {To: StatusProcessing},
		TriggerRefund:          {To: StatusRefunded, Effect: EffectReleaseCommitted},
	},
	StatusProcessing: {
		TriggerShip:   {To: StatusShipped},
		TriggerRefund: {To: StatusRefunded, Effect: EffectReleaseCommitted},
	},
	StatusShipped: {
		TriggerDeliver: {To: StatusDelivered},
	},
}

// Next resolves the transition table for (from, trigger). Anything not in the
// table is an illegal transition.
func Next(from Status, trg Trigger) (Status, Effect, error) {
	if rules, ok := transitions[from]; ok {
		if r, ok := rules[trg]; ok {
			return r.To, r.Effect, nil
		}
	}
	return "", EffectNone, fmt.Errorf("%w: %s on %s", ErrIllegalTransition, trg, from)
}

// Apply moves the order to the status the trigger leads to and returns the
// reservation effect the caller must carry out with the status change.
func (o *Order) Apply(trg Trigger) (Effect, error) {
	next, effect, err := Next(o.Status, trg)
	if err != nil {
		return EffectNone, err
	}
	o.Status = next
	o.touch()
	return effect, nil
}

// Terminal reports whether the status has no outgoing transitions.
func (s Status) Terminal() bool {
	return len(transitions[s]) == 0
}

// ParseTrigger validates a caller-supplied trigger name.
func ParseTrigger(s string) (Trigger, error) {
	switch Trigger(s) {
	case TriggerPaymentAuthorized, TriggerExpire, TriggerCancel, TriggerApprove,
		TriggerStartProcessing, TriggerShip, TriggerDeliver, TriggerRefund:
		return Trigger(s), nil
	}
	return "", fmt.Errorf("order: unknown trigger %q", s)
}
