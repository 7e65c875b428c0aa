package models

// ErrorKind identifies a named settlement failure. Kinds are comparable with
// errors.Is through any number of NewError wrappings.
type ErrorKind string

func (e ErrorKind) Error() string {
	return string(e)
}

const (
	ErrInvalidSignature          = ErrorKind("InvalidSignature")
	ErrRevealTooEarly            = ErrorKind("RevealTooEarly")
	ErrRevealTooLate             = ErrorKind("RevealTooLate")
	ErrOrdersDontMatch           = ErrorKind("OrdersDontMatch")
	ErrMatchingValidatorMismatch = ErrorKind("MatchingValidatorMismatch")
	ErrSelfTradingNotAllowed     = ErrorKind("SelfTradingNotAllowed")
	ErrOrderExpired              = ErrorKind("OrderExpired")
	ErrOrderAlreadyFilled        = ErrorKind("OrderAlreadyFilled")
	ErrEmergencyStopActive       = ErrorKind("EmergencyStopActive")

	ErrInvalidOrder          = ErrorKind("InvalidOrder")
	ErrDailyLimitExceeded    = ErrorKind("DailyLimitExceeded")
	ErrNotAuthorized         = ErrorKind("NotAuthorized")
	ErrNotOrderOwner         = ErrorKind("NotOrderOwner")
	ErrCommitmentExists      = ErrorKind("CommitmentExists")
	ErrCommitmentNotFound    = ErrorKind("CommitmentNotFound")
	ErrAlreadyRevealed       = ErrorKind("AlreadyRevealed")
	ErrTradingNotStopped     = ErrorKind("TradingNotStopped")
	ErrInsufficientBalance   = ErrorKind("InsufficientBalance")
	ErrInsufficientAllowance = ErrorKind("InsufficientAllowance")
	ErrUnknownToken          = ErrorKind("UnknownToken")
)

// Error pairs a kind with details.
type Error struct {
	wrapped error
	detail  string
}

func (e Error) Error() string {
	return e.wrapped.Error() + ": " + e.detail
}

// Unwrap returns the wrapped kind so errors.Is and errors.As work.
func (e Error) Unwrap() error {
	return e.wrapped
}

// NewError wraps err with detail.
func NewError(err error, detail string) Error {
	return Error{
		wrapped: err,
		detail:  detail,
	}
}
