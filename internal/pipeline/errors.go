package pipeline

import "fmt"

// TemplateNotFoundError is LOAD_TEMPLATE's failure (spec §4.4 step 1).
type TemplateNotFoundError struct {
	Name string
}

func (e *TemplateNotFoundError) Error() string {
	return fmt.Sprintf("template %q not found", e.Name)
}
