package errors

// Failure classes shared by every store-backed component. Callers branch on
// them with Is; specific cases add a "reason" metadata entry.
var (
	// ErrUnavailable means the store could not be reached after retries or
	// the circuit breaker is open. Callers degrade: logged out, cache miss.
	ErrUnavailable = New(503, "store unavailable")

	// ErrInvalidSession is an authentication outcome, not an infrastructure fault.
	ErrInvalidSession = New(401, "invalid session")

	ErrInvalidInput = New(400, "invalid input")
	ErrNotFound     = New(404, "not found")
	ErrRateLimited  = New(429, "rate limited")

	// ErrMissingChunk and ErrCorrupt are fatal to a blob read.
	ErrMissingChunk = New(500, "missing chunk")
	ErrCorrupt      = New(500, "corrupt data")
)

func BadRequest(format string, args ...any) *Error { return New(400, format, args...) }

func Unauthorized(format string, args ...any) *Error { return New(401, format, args...) }

func NotFound(format string, args ...any) *Error { return New(404, format, args...) }

func TooManyRequests(format string, args ...any) *Error { return New(429, format, args...) }

func Internal(format string, args ...any) *Error { return New(500, format, args...) }

func ServiceUnavailable(format string, args ...any) *Error { return New(503, format, args...) }
