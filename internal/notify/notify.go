// Package notify sends order confirmations and manager alerts over SMS.
package notify

import (
	"context"
	"errors"
	"fmt"
)

// Sender delivers a single text message. Implemented by the Twilio REST
// client; replaced by a fake in tests.
type Sender interface {
	SendMessage(ctx context.Context, to, body string) error
}

// Notifier composes and sends the SMS messages produced at the end of a call.
type Notifier struct {
	sender  Sender
	manager string // manager phone number
	// addresses maps location names to street addresses for message bodies.
	addresses map[string]string
}

// New returns a Notifier sending through sender. managerNumber receives
// manager copies and alerts; addresses supplies location detail lines.
func New(sender Sender, managerNumber string, addresses map[string]string) *Notifier {
	return &Notifier{sender: sender, manager: managerNumber, addresses: addresses}
}

// OrderConfirmed sends the customer confirmation and the manager copy for a
// finished order. The two sends are independent: a failure on one does not
// stop the other, and both errors are reported.
func (n *Notifier) OrderConfirmed(ctx context.Context, s OrderSummary) error {
	to := s.Recipient
	if to == "" {
		to = s.Phone
	}
	var errs []error
	if err := n.sender.SendMessage(ctx, to, CustomerBody(s, n.addresses)); err != nil {
		errs = append(errs, fmt.Errorf("notify: customer sms: %w", err))
	}
	if err := n.sender.SendMessage(ctx, n.manager, ManagerBody(s, n.addresses)); err != nil {
		errs = append(errs, fmt.Errorf("notify: manager sms: %w", err))
	}
	return errors.Join(errs...)
}

// CallTransferred alerts the manager that a call was handed off to them.
func (n *Notifier) CallTransferred(ctx context.Context, callerNumber string) error {
	body := fmt.Sprintf("A caller (%s) asked to speak with you and is being connected now.", callerNumber)
	if err := n.sender.SendMessage(ctx, n.manager, body); err != nil {
		return fmt.Errorf("notify: transfer alert: %w", err)
	}
	return nil
}
