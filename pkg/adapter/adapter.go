package adapter

import "context"

// Adapter is the model-calling capability used by every pipeline stage.
type Adapter interface {
	// Generate sends a prompt to the model and returns its text response.
	// Transport failures and structurally empty responses are reported as
	// *ModelError.
	Generate(ctx context.Context, model string, prompt string) (*Response, error)

	// Name returns the adapter's identifier.
	Name() string

	// Models returns the list of supported models.
	Models() []string
}

// DefaultModel returns the first model an adapter advertises, or "".
func DefaultModel(a Adapter) string {
	if a == nil {
		return ""
	}
	models := a.Models()
	if len(models) == 0 {
		return ""
	}
	return models[0]
}
