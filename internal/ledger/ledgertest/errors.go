package ledgertest

import "errors"

// ErrUnknownContract is returned for addresses not registered with the fake
// provider.
var ErrUnknownContract = errors.New("ledgertest: unknown contract address")
