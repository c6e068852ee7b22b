package workflow

import "strings"

// ValidationError lists every problem found in a job config
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid job configuration: " + strings.Join(e.Problems, "; ")
}
