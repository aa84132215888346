package pipeline

import (
	"fmt"
	"time"

	"barflow/models"
)

// CredentialError means the provider credentials could not be obtained.
// It is fatal: no symbol can be fetched without them.
type CredentialError struct {
	Secret string
	Err    error
}

func (e *CredentialError) Error() string {
	return fmt.Sprintf("failed to retrieve API credentials from %q: %v", e.Secret, e.Err)
}

func (e *CredentialError) Unwrap() error { return e.Err }

// FetchError is a symbol for which the provider returned no bars.
type FetchError struct {
	Symbol string
	Start  time.Time
	End    time.Time
}

func (e *FetchError) Error() string {
	return fmt.Sprintf("no data fetched for %s between %s and %s",
		e.Symbol, e.Start.Format(models.DateLayout), e.End.Format(models.DateLayout))
}
