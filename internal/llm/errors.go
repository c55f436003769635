package llm

import "fmt"

// UpstreamError is a model provider failure. The upstream status and
// body are preserved so the HTTP layer can report diagnostics.
type UpstreamError struct {
	Status int
	Body   string
}

func (e *UpstreamError) Error() string {
	return fmt.Sprintf("upstream error %d: %s", e.Status, e.Body)
}
