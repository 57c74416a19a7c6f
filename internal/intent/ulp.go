package intent

import (
	"context"
	"encoding/json"
	"fmt"
)

// GetULPTemplateHandler downloads the Universal Login page template.
type GetULPTemplateHandler struct {
	named
}

func NewGetULPTemplateHandler() *GetULPTemplateHandler {
	return &GetULPTemplateHandler{named: GetULPTemplateIntent}
}

func (h *GetULPTemplateHandler) Handle(ctx context.Context, _ map[string]any, api API) Result {
	raw, err := api.Get(ctx, "branding/templates/universal-login", nil)
	if err != nil {
		return errorResult(err)
	}
	if isEmptyJSON(raw) {
		return textResult(NoDataMessage)
	}

	var tmpl struct {
		Body string `json:"body"`
	}
	if err := json.Unmarshal(raw, &tmpl); err != nil || tmpl.Body == "" {
		return textResult(NoDataMessage)
	}

	formatted, err := FormatHTML(tmpl.Body)
	if err != nil {
		return textResult(fmt.Sprintf("An error occurred while formatting the HTML: %v", err))
	}
	if formatted == "" {
		return textResult(NoDataMessage)
	}
	return Result{Payload: formatted, NeedsFileUpload: true}
}
