package parser

import (
	"errors"
	"fmt"
)

var (
	ErrNoVulnerabilityFound = errors.New("no vulnerability found")
	ErrMalformedTrace       = errors.New("malformed trace")
	ErrMalformedReport      = errors.New("malformed report")
)

// ParseError describes why a report could not be turned into a vulnerability.
// Kind is one of the sentinel errors above.
type ParseError struct {
	Kind   error
	Report string
	Offset int
	Detail string
}

func (e *ParseError) Error() string {
	msg := e.Kind.Error()
	if e.Report != "" {
		msg = fmt.Sprintf("%s: %s", e.Report, msg)
	}
	if e.Detail != "" {
		msg = fmt.Sprintf("%s: %s", msg, e.Detail)
	}
	if e.Offset > 0 {
		msg = fmt.Sprintf("%s (offset %d)", msg, e.Offset)
	}
	return msg
}

func (e *ParseError) Unwrap() error {
	return e.Kind
}

func newParseError(kind error, report string, offset int, format string, args ...interface{}) *ParseError {
	return &ParseError{
		Kind:   kind,
		Report: report,
		Offset: offset,
		Detail: fmt.Sprintf(format, args...),
	}
}
