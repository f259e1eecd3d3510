// Package signals adapts hardware-style fault events onto the messaging
// layer. A raised code either lands in a registered handler's inbox as a
// maximum-priority signal message or falls back to the code's default
// action, so no signal is ever silently unhandled.
package signals

// Code is a reserved signal number. The set is fixed; userspace cannot
// define codes.
type Code uint8

const (
	// CodePageFault reports an access to an unmapped or forbidden page.
	CodePageFault Code = iota + 1
	// CodeIllegalInstruction reports an undefined or privileged opcode.
	CodeIllegalInstruction
	// CodeTerminate asks the target task to die.
	CodeTerminate
	// CodeLockMisuse reports a synchronization protocol violation
	// promoted to a fault (release by non-owner, self-deadlock).
	CodeLockMisuse
	// CodeQuotaExceeded reports a resource budget overrun.
	CodeQuotaExceeded

	codeLimit
)

// Valid reports whether c is one of the reserved codes.
func (c Code) Valid() bool { return c >= CodePageFault && c < codeLimit }

func (c Code) String() string {
	switch c {
	case CodePageFault:
		return "page-fault"
	case CodeIllegalInstruction:
		return "illegal-instruction"
	case CodeTerminate:
		return "terminate"
	case CodeLockMisuse:
		return "lock-misuse"
	case CodeQuotaExceeded:
		return "quota-exceeded"
	default:
		return "unknown"
	}
}

// DefaultAction is what happens to a raised code with no handler.
type DefaultAction uint8

const (
	// ActionIgnore drops the signal.
	ActionIgnore DefaultAction = iota + 1
	// ActionTerminate kills the target task.
	ActionTerminate
	// ActionLogTerminate records the fault with full context, then kills
	// the target task.
	ActionLogTerminate
)

func (a DefaultAction) String() string {
	switch a {
	case ActionIgnore:
		return "ignore"
	case ActionTerminate:
		return "terminate"
	case ActionLogTerminate:
		return "log-terminate"
	default:
		return "unknown"
	}
}

// Default returns the action applied when no handler is registered for
// c. The mapping is total: unknown codes are treated as faults worth
// recording.
func (c Code) Default() DefaultAction {
	switch c {
	case CodePageFault, CodeIllegalInstruction, CodeLockMisuse:
		return ActionLogTerminate
	case CodeTerminate:
		return ActionTerminate
	case CodeQuotaExceeded:
		return ActionIgnore
	default:
		return ActionLogTerminate
	}
}
