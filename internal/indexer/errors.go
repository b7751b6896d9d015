package indexer

import (
	"errors"
	"fmt"

	"github.com/syntrixbase/chunkdex/internal/indexer/config"
)

var (
	ErrNotConfigured     = errors.New("indexer is not configured")
	ErrAlreadyConfigured = errors.New("indexer is already configured")
	ErrConvert           = errors.New("event conversion failed")
	ErrNotQueryable      = errors.New("indexer sink does not support queries")
	ErrInvalidConfig     = config.ErrInvalidConfig
)

// FetchError reports a failed window fetch. The step that returns it has not
// changed any state and can be retried as is.
type FetchError struct {
	Indexer string
	From    uint64
	To      uint64
	Err     error
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("indexer %q: fetch [%d, %d): %v", e.Indexer, e.From, e.To, e.Err)
}

func (e *FetchError) Unwrap() error {
	return e.Err
}
