package listing

import "fmt"

// Outcome classifies the result of a backend operation.
type Outcome int

const (
	OK Outcome = iota
	NotFound
	Denied
	Invalid
	Failed
)

func (o Outcome) String() string {
	switch o {
	case OK:
		return "ok"
	case NotFound:
		return "not_found"
	case Denied:
		return "denied"
	case Invalid:
		return "invalid"
	case Failed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Result is the business outcome of an operation. Expected failures such
// as a missing file or a permission refusal are Results, not errors.
type Result struct {
	Outcome Outcome
	Message string
}

// Ok reports whether the operation succeeded.
func (r Result) Ok() bool { return r.Outcome == OK }

func (r Result) String() string {
	if r.Message == "" {
		return r.Outcome.String()
	}
	return r.Outcome.String() + ": " + r.Message
}

// Success is the zero-message OK result.
var Success = Result{Outcome: OK}

func notFound(format string, args ...any) Result {
	return Result{Outcome: NotFound, Message: fmt.Sprintf(format, args...)}
}

func denied(format string, args ...any) Result {
	return Result{Outcome: Denied, Message: fmt.Sprintf(format, args...)}
}

func invalid(format string, args ...any) Result {
	return Result{Outcome: Invalid, Message: fmt.Sprintf(format, args...)}
}

func failed(format string, args ...any) Result {
	return Result{Outcome: Failed, Message: fmt.Sprintf(format, args...)}
}

// resultError carries a non-OK Result through a cache factory so that
// it is returned to the caller without being cached.
type resultError struct{ r Result }

func (e *resultError) Error() string { return "listing: " + e.r.String() }
