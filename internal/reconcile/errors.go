package reconcile

import (
	"fmt"
	"strings"
)

// SchemaError reports required columns missing from an export header.
// Fatal to the run; the web layer maps it to a user message.
type SchemaError struct {
	Missing []string
}

func (e *SchemaError) Error() string {
	return fmt.Sprintf("missing required columns: %s", strings.Join(e.Missing, ", "))
}
