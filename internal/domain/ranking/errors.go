package ranking

import "errors"

// ErrUnknownTieBreak is returned for unsupported tie-break names.
var ErrUnknownTieBreak = errors.New("unknown tie-break")
