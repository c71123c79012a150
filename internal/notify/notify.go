// Package notify delivers outbound messages to callers.
//
// A Notifier performs one delivery. Sender sits in front of a Notifier and
// owns the ordering and de-duplication rules: messages for one caller are
// delivered one at a time in the order they were queued, and a prompt
// identical to the last one sent to that caller is dropped.
package notify

import (
	"context"
	"errors"
	"log"

	"github.com/gluk-w/claworc/shellrelay/internal/logutil"
)

// Notifier delivers text to a caller.
type Notifier interface {
	Notify(ctx context.Context, identity, text string) error
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context, identity, text string) error

func (f NotifierFunc) Notify(ctx context.Context, identity, text string) error {
	return f(ctx, identity, text)
}

// LogNotifier writes notifications to the standard logger. It is the
// fallback when no outbound transport is configured.
type LogNotifier struct{}

func (LogNotifier) Notify(_ context.Context, identity, text string) error {
	log.Printf("[notify] to %s: %s", logutil.SanitizeForLog(identity), logutil.SanitizeForLog(logutil.Truncate(text, 200)))
	return nil
}

// Multi fans a notification out to every Notifier. Each one is attempted;
// the errors are joined.
type Multi []Notifier

func (m Multi) Notify(ctx context.Context, identity, text string) error {
	var errs []error
	for _, n := range m {
		if err := n.Notify(ctx, identity, text); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
