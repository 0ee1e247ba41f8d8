package notifiers

import (
	"context"
	"errors"
	"fmt"
)

// DeliveryError reports one notifier that failed to deliver a message.
type DeliveryError struct {
	NotifierID   string
	NotifierType string
	Err          error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("%s notifier[%s]: %v", e.NotifierType, e.NotifierID, e.Err)
}

func (e *DeliveryError) Unwrap() error { return e.Err }

// Fanout delivers a message to every configured notifier, in order.
type Fanout struct {
	notifiers []Notifier
}

// NewFanout builds a dispatcher over the non-nil notifiers.
func NewFanout(ns []Notifier) *Fanout {
	cp := make([]Notifier, 0, len(ns))
	for _, n := range ns {
		if n == nil {
			continue
		}
		cp = append(cp, n)
	}
	return &Fanout{notifiers: cp}
}

// Send forwards message to every notifier, even after a failure, and returns
// the number that succeeded. Each failure is a *DeliveryError in the joined
// error.
func (f *Fanout) Send(ctx context.Context, message string) (int, error) {
	if f == nil || len(f.notifiers) == 0 {
		return 0, nil
	}

	var errs []error
	successful := 0
	for _, n := range f.notifiers {
		if err := n.Send(ctx, message); err != nil {
			errs = append(errs, &DeliveryError{NotifierID: n.ID(), NotifierType: n.Type(), Err: err})
		} else {
			successful++
		}
	}
	return successful, errors.Join(errs...)
}

// Size returns the number of active notifiers.
func (f *Fanout) Size() int {
	if f == nil {
		return 0
	}
	return len(f.notifiers)
}
