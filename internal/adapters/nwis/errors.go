package nwis

import "errors"

// ErrFormat reports input that does not follow the expected layout.
var ErrFormat = errors.New("nwis: malformed input")
