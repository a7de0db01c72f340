package backup

import "errors"

var (
	// ErrTooLarge is returned for documents above MaxSize. Nothing else is checked.
	ErrTooLarge = errors.New("backup exceeds size limit")

	// ErrMalformed is returned when the document is not a JSON object.
	ErrMalformed = errors.New("backup is not valid JSON")

	// ErrStructure is returned when required table collections are missing or
	// are not arrays.
	ErrStructure = errors.New("backup structure is invalid")

	// ErrNotImportable is returned when an import is attempted on a report with errors.
	ErrNotImportable = errors.New("backup has invalid records")
)
