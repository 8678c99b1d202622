package scorehost

import "errors"

// ErrUnexpectedStatus is a non-OK, non-auth response from the score host.
var ErrUnexpectedStatus = errors.New("unexpected score host status")
