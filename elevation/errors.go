package elevation

import (
	"errors"
	"fmt"
	"strings"
)

var (
	ErrHTTPStatus    = errors.New("unexpected HTTP status")
	ErrResponseCount = errors.New("elevation count does not match location count")
)

// A StatusError is returned when the service reports a status other than OK.
type StatusError struct {
	Status string
}

func (e *StatusError) Error() string {
	return "elevation service status " + e.Status
}

// A BatchError records the failure of a single batch request.
type BatchError struct {
	Indexes []int // Input positions carried by the batch.
	Err     error
}

func (e *BatchError) Error() string {
	return fmt.Sprintf("batch of %d points: %v", len(e.Indexes), e.Err)
}

func (e *BatchError) Unwrap() error {
	return e.Err
}

// A PartialError is returned with the elevations when one or more batches
// failed.
type PartialError struct {
	Batches []*BatchError
}

func (e *PartialError) Error() string {
	messages := make([]string, 0, len(e.Batches))
	for _, batchErr := range e.Batches {
		messages = append(messages, batchErr.Error())
	}
	return fmt.Sprintf("%d of the batches failed: %s", len(e.Batches), strings.Join(messages, "; "))
}

// Unwrap returns the underlying batch errors.
func (e *PartialError) Unwrap() []error {
	errs := make([]error, 0, len(e.Batches))
	for _, batchErr := range e.Batches {
		errs = append(errs, batchErr)
	}
	return errs
}

// FailedIndexes returns the input positions of all failed batches in
// ascending order.
func (e *PartialError) FailedIndexes() []int {
	var indexes []int
	for _, batchErr := range e.Batches {
		indexes = append(indexes, batchErr.Indexes...)
	}
	return indexes
}
