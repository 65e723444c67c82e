// Package lifecycle is the subscription state machine. Each processor event
// kind has a named transition that returns the next state or a rejection;
// callers persist the result and own the subscriber counters.
package lifecycle

import (
	"errors"
	"time"

	"github.com/dukerupert/marketplace/internal/model"
)

// DefaultCycle is used when a tier does not declare its billing interval.
const DefaultCycle = 30 * 24 * time.Hour

var (
	ErrTerminal      = errors.New("lifecycle: subscription already expired")
	ErrStale         = errors.New("lifecycle: event older than last applied change")
	ErrInvalidPeriod = errors.New("lifecycle: event has no usable billing period")
)

// State is one of Active, Paused or Expired.
type State interface {
	Status() model.SubscriptionStatus
	isState()
}

type Active struct {
	Start      time.Time
	End        time.Time
	AutoRenew  bool
	CanceledAt *time.Time
}

// Paused still holds a tier slot; payment retries may reactivate it.
type Paused struct {
	Start      time.Time
	End        time.Time
	AutoRenew  bool
	CanceledAt *time.Time
}

type Expired struct {
	Start      time.Time
	End        time.Time
	CanceledAt time.Time
}

func (Active) Status() model.SubscriptionStatus  { return model.SubscriptionActive }
func (Paused) Status() model.SubscriptionStatus  { return model.SubscriptionPaused }
func (Expired) Status() model.SubscriptionStatus { return model.SubscriptionExpired }

func (Active) isState()  {}
func (Paused) isState()  {}
func (Expired) isState() {}

// Change is what a created/updated event says about a subscription.
type Change struct {
	Active            bool
	Start             time.Time
	End               time.Time
	CancelAtPeriodEnd bool
	CanceledAt        *time.Time
	At                time.Time
}

// Create builds the initial state for a subscription seen for the first time.
func Create(c Change) (State, error) {
	if c.End.IsZero() || c.Start.IsZero() || c.End.Before(c.Start) {
		return nil, ErrInvalidPeriod
	}
	return live(c.Active, c.Start, c.End, !c.CancelAtPeriodEnd, c.CanceledAt), nil
}

// Sync applies a created/updated event to an existing subscription. The
// period only moves forward: an event whose period ends earlier than the
// stored one keeps the stored dates.
func Sync(cur State, lastEventAt *time.Time, c Change) (State, error) {
	if _, ok := cur.(Expired); ok {
		return nil, ErrTerminal
	}
	if isStale(lastEventAt, c.At) {
		return nil, ErrStale
	}

	start, end := period(cur)
	if !c.End.IsZero() && !c.End.Before(end) {
		end = c.End
		if !c.Start.IsZero() {
			start = c.Start
		}
	}
	return live(c.Active, start, end, !c.CancelAtPeriodEnd, c.CanceledAt), nil
}

// Delete expires a subscription. Deleting an expired subscription is
// rejected so the caller does not release its tier slot twice.
func Delete(cur State, now time.Time) (State, error) {
	if _, ok := cur.(Expired); ok {
		return nil, ErrTerminal
	}
	start, end := period(cur)
	return Expired{Start: start, End: end, CanceledAt: now}, nil
}

// InvoicePaid extends the stored end date by one billing cycle and forces the
// subscription active. The extension is relative to the stored end date, not
// to the time the invoice was paid. An invoice older than the last applied
// change still extends the period but leaves the status alone, so a late
// payment does not undo a newer failure.
func InvoicePaid(cur State, lastEventAt *time.Time, at time.Time, cycle time.Duration) (State, error) {
	if cycle <= 0 {
		cycle = DefaultCycle
	}
	switch s := cur.(type) {
	case Active:
		s.End = s.End.Add(cycle)
		return s, nil
	case Paused:
		s.End = s.End.Add(cycle)
		if isStale(lastEventAt, at) {
			return s, nil
		}
		return Active{Start: s.Start, End: s.End, AutoRenew: s.AutoRenew, CanceledAt: s.CanceledAt}, nil
	default:
		return nil, ErrTerminal
	}
}

// PaymentFailed pauses a subscription without expiring it.
func PaymentFailed(cur State, lastEventAt *time.Time, at time.Time) (State, error) {
	if isStale(lastEventAt, at) {
		return nil, ErrStale
	}
	switch s := cur.(type) {
	case Active:
		return Paused{Start: s.Start, End: s.End, AutoRenew: s.AutoRenew, CanceledAt: s.CanceledAt}, nil
	case Paused:
		return s, nil
	default:
		return nil, ErrTerminal
	}
}

// FromModel reads the state of a stored subscription.
func FromModel(sub *model.Subscription) State {
	switch sub.Status {
	case model.SubscriptionExpired:
		var canceled time.Time
		if sub.CanceledAt != nil {
			canceled = *sub.CanceledAt
		}
		return Expired{Start: sub.StartDate, End: sub.EndDate, CanceledAt: canceled}
	case model.SubscriptionPaused:
		return Paused{Start: sub.StartDate, End: sub.EndDate, AutoRenew: sub.AutoRenew, CanceledAt: sub.CanceledAt}
	default:
		return Active{Start: sub.StartDate, End: sub.EndDate, AutoRenew: sub.AutoRenew, CanceledAt: sub.CanceledAt}
	}
}

// Apply writes s onto sub.
func Apply(sub *model.Subscription, s State) {
	sub.Status = s.Status()
	switch st := s.(type) {
	case Active:
		sub.StartDate, sub.EndDate = st.Start, st.End
		sub.AutoRenew = st.AutoRenew
		sub.CanceledAt = st.CanceledAt
	case Paused:
		sub.StartDate, sub.EndDate = st.Start, st.End
		sub.AutoRenew = st.AutoRenew
		sub.CanceledAt = st.CanceledAt
	case Expired:
		sub.StartDate, sub.EndDate = st.Start, st.End
		sub.AutoRenew = false
		canceled := st.CanceledAt
		sub.CanceledAt = &canceled
	}
}

func live(active bool, start, end time.Time, autoRenew bool, canceledAt *time.Time) State {
	if active {
		return Active{Start: start, End: end, AutoRenew: autoRenew, CanceledAt: canceledAt}
	}
	return Paused{Start: start, End: end, AutoRenew: autoRenew, CanceledAt: canceledAt}
}

func period(s State) (time.Time, time.Time) {
	switch st := s.(type) {
	case Active:
		return st.Start, st.End
	case Paused:
		return st.Start, st.End
	case Expired:
		return st.Start, st.End
	}
	return time.Time{}, time.Time{}
}

func isStale(last *time.Time, at time.Time) bool {
	return last != nil && !at.IsZero() && at.Before(*last)
}
