package session

import "strings"

// errorList wraps errors that might occur when multiple resources are
// failing to release.
type errorList []error

func (e errorList) Error() string {
	s := []string{}
	for _, se := range e {
		s = append(s, se.Error())
	}
	return strings.Join(s, ",")
}

// Unwrap allows errors.Is to match any of errors.
func (e errorList) Unwrap() []error {
	return e
}

// ret returns untyped nil if error is list is empty.
func (e errorList) ret() error {
	if len(e) > 0 {
		return e
	}
	return nil
}
