package models

import "errors"

// ErrEmptyPayload is returned when an event that requires data carries none.
var ErrEmptyPayload = errors.New("empty event payload")
