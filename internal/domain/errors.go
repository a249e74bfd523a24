package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrLockHeld       = errors.New("lock already held")
	ErrNotRunning     = errors.New("engine not running")
	ErrAlreadyRunning = errors.New("engine already running")
	ErrInvalidInput   = errors.New("invalid input")

	// ErrUnavailable marks a transient venue or network failure. The venue is
	// treated as absent for the current cycle.
	ErrUnavailable = errors.New("unavailable")

	// ErrConfiguration marks missing or invalid startup configuration.
	ErrConfiguration = errors.New("configuration error")

	// ErrRiskBreaker is returned while the daily loss limit is reached.
	ErrRiskBreaker = errors.New("daily loss limit reached")

	// ErrInvalidOpportunity is the parent of every candidate rejection that is
	// dropped without being treated as a failure.
	ErrInvalidOpportunity = errors.New("invalid opportunity")

	ErrStale          = invalid("opportunity is stale")
	ErrBelowThreshold = invalid("profit below threshold")
	ErrBlacklisted    = invalid("token is blacklisted")
	ErrBelowMinSize   = invalid("trade size below minimum")
	ErrNoBalance      = invalid("insufficient available balance")
	ErrCooldown       = invalid("token traded too recently")
)

type invalidOpportunity struct{ msg string }

func invalid(msg string) error { return &invalidOpportunity{msg: msg} }

func (e *invalidOpportunity) Error() string        { return e.msg }
func (e *invalidOpportunity) Is(target error) bool { return target == ErrInvalidOpportunity }
