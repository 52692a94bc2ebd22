// Package notify delivers the session report to its recipients.
package notify

import (
	"context"
	"errors"
	"sync"
)

// Attachment is a file carried by a notification.
type Attachment struct {
	Name        string
	ContentType string
	Data        []byte
}

// Notification is one outbound report message.
type Notification struct {
	Subject     string
	HTML        string
	Attachments []Attachment
}

// Dispatcher sends notifications.
type Dispatcher interface {
	Dispatch(ctx context.Context, n Notification) error
}

// DispatcherFunc adapts a function to Dispatcher.
type DispatcherFunc func(ctx context.Context, n Notification) error

// Dispatch implements Dispatcher.
func (f DispatcherFunc) Dispatch(ctx context.Context, n Notification) error { return f(ctx, n) }

// Recorder is an in-memory Dispatcher. Set Err to make every dispatch fail.
type Recorder struct {
	mu   sync.Mutex
	sent []Notification
	Err  error
}

// Dispatch implements Dispatcher.
func (r *Recorder) Dispatch(ctx context.Context, n Notification) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.Err != nil {
		return r.Err
	}
	r.sent = append(r.sent, n)
	return nil
}

// SetErr changes the failure returned by later dispatches.
func (r *Recorder) SetErr(err error) {
	r.mu.Lock()
	r.Err = err
	r.mu.Unlock()
}

// Sent returns the notifications dispatched so far.
func (r *Recorder) Sent() []Notification {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]Notification(nil), r.sent...)
}

// ErrNoRecipients is returned when a dispatcher has nobody to send to.
var ErrNoRecipients = errors.New("notify: no recipients configured")
