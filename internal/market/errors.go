package market

import (
	"github.com/pkg/errors"
)

// Error kinds. Callers classify with errors.Is.
var (
	ErrTransport  = errors.New("transport error")
	ErrFetch      = errors.New("fetch error")
	ErrStore      = errors.New("store error")
	ErrValidation = errors.New("validation error")

	ErrUnknownTimeframe    = errors.New("unknown timeframe")
	ErrAlreadyBootstrapped = errors.New("symbol already bootstrapped")
	ErrClosed              = errors.New("closed")
)

type kindError struct {
	kind error
	err  error
}

func (e *kindError) Error() string { return e.kind.Error() + ": " + e.err.Error() }

func (e *kindError) Unwrap() error { return e.err }

func (e *kindError) Is(target error) bool { return target == e.kind }

func withKind(kind, err error) error {
	if err == nil {
		return nil
	}
	var ke *kindError
	if errors.As(err, &ke) && ke.kind == kind {
		return err
	}
	return &kindError{kind: kind, err: errors.WithStack(err)}
}

// TransportError marks err as a live connection failure.
func TransportError(err error) error { return withKind(ErrTransport, err) }

// FetchError marks err as a failed or malformed historical pull.
func FetchError(err error) error { return withKind(ErrFetch, err) }

// StoreError marks err as a durable store read or write failure.
func StoreError(err error) error { return withKind(ErrStore, err) }

// ValidationError marks err as malformed trade or candle data.
func ValidationError(err error) error { return withKind(ErrValidation, err) }
