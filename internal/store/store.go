package store

// Store persists fit records.
//
// Error handling conventions:
//   - Return ErrNotFound if the record doesn't exist (for Load/Delete)
//   - Wrap underlying errors with context using fmt.Errorf("context: %w", err)
type Store interface {
	// SaveRecord atomically writes rec under id, replacing any previous
	// record with the same id.
	SaveRecord(id string, rec *Record) error

	// LoadRecord returns the record stored under id.
	LoadRecord(id string) (*Record, error)

	// ListRecords returns a summary of every readable record.
	ListRecords() ([]RecordInfo, error)

	// DeleteRecord removes the record and its artifacts (trace, previews).
	DeleteRecord(id string) error
}

// ErrNotFound is returned when a requested record does not exist.
// Use errors.Is(err, ErrNotFound) to check for this error.
var ErrNotFound = &NotFoundError{}

// NotFoundError represents a missing fit record.
type NotFoundError struct {
	ID string
}

func (e *NotFoundError) Error() string {
	if e.ID != "" {
		return "fit record not found: " + e.ID
	}
	return "fit record not found"
}

func (e *NotFoundError) Is(target error) bool {
	_, ok := target.(*NotFoundError)
	return ok
}
