package mailbox

import "errors"

var (
	// ErrEmpty reports a non-blocking receive on an empty inbox.
	ErrEmpty = errors.New("mailbox empty")
	// ErrDropped reports a message rejected by the drop policy at the
	// high-water mark. The sender keeps the message; the inbox counts
	// the rejection.
	ErrDropped = errors.New("message dropped by backpressure")
	// ErrClosed reports an operation on a destroyed inbox.
	ErrClosed = errors.New("mailbox closed")
	// ErrNoSender reports a blocking send attempted without a sending
	// task to suspend.
	ErrNoSender = errors.New("blocking send requires a sending task")
)
