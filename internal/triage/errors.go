package triage

import "errors"

// ErrAlertNotFound is returned when an operation references an alert ID with
// no stored record.
var ErrAlertNotFound = errors.New("alert not found")
