package chain

import "errors"

// ErrUpstream wraps any non-200 response from the chain API. Callers that
// need to classify it as retriable (§7 ResourceUnavailable) should wrap it
// with jobs.ResourceUnavailable rather than inspect the status code here.
var ErrUpstream = errors.New("chain: upstream error")
