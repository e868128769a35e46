package balance

import "errors"

var (
	// ErrSourceUnavailable is returned when the transactions store cannot be read.
	ErrSourceUnavailable = errors.New("balance source unavailable")

	// ErrRatesUnavailable is returned when exchange rates cannot be fetched or decoded.
	ErrRatesUnavailable = errors.New("exchange rates unavailable")
)
