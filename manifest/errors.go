package manifest

import "errors"

// ErrInvalid indicates manifests whose sizes or paths disagree during
// a merge, or a manifest failing its integrity check.
var ErrInvalid = errors.New("invalid manifest")
