package chunk

import "errors"

// ErrInvalid indicates a codec failure, a truncated chunk file, or a
// depth inconsistency in the chunk id list.
var ErrInvalid = errors.New("invalid chunk")
