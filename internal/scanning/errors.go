package scanning

import (
	"errors"
	"fmt"
	"strings"
)

var (
	// ErrInvalidFormat means the content carries no recognizable receipt reference
	ErrInvalidFormat = errors.New("invalid receipt format")

	// ErrMissingAccessKey is the InvalidFormat case raised by the reference decoder
	ErrMissingAccessKey = fmt.Errorf("%w: access key not found", ErrInvalidFormat)

	// ErrRetrievalFailure means every retrieval route failed
	ErrRetrievalFailure = errors.New("document retrieval failed")

	// ErrSectionNotFound means an extraction group's markup is absent
	ErrSectionNotFound = errors.New("section not found")

	// ErrNumericParse means a value did not parse as a decimal
	ErrNumericParse = errors.New("numeric parse failure")

	ErrCanceled     = errors.New("scan canceled")
	ErrEmptyContent = errors.New("scanned content is empty")
)

// Attempt records one failed retrieval route
type Attempt struct {
	Route  string `json:"route"`
	Reason string `json:"reason"`
}

// RetrievalError aggregates the reasons of every failed route
type RetrievalError struct {
	Locator  string
	Attempts []Attempt
}

func (e *RetrievalError) Error() string {
	reasons := make([]string, 0, len(e.Attempts))
	for _, a := range e.Attempts {
		reasons = append(reasons, fmt.Sprintf("%s: %s", a.Route, a.Reason))
	}
	return fmt.Sprintf("%s after %d attempts: %s", ErrRetrievalFailure, len(e.Attempts), strings.Join(reasons, "; "))
}

func (e *RetrievalError) Is(target error) bool {
	return target == ErrRetrievalFailure
}

func sectionNotFound(section string) error {
	return fmt.Errorf("%w: %s", ErrSectionNotFound, section)
}

func canceled(err error) error {
	return fmt.Errorf("%w: %w", ErrCanceled, err)
}
