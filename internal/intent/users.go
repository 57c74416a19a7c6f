package intent

import (
	"context"
	"net/url"
)

// GetUserByIDHandler fetches one user record.
type GetUserByIDHandler struct {
	named
	policy jsonPolicy
}

func NewGetUserByIDHandler(maxInline int) *GetUserByIDHandler {
	return &GetUserByIDHandler{named: GetUserByIDIntent, policy: newJSONPolicy(maxInline)}
}

func (h *GetUserByIDHandler) Handle(ctx context.Context, params map[string]any, api API) Result {
	id, ok := stringParam(params, UserIDParam)
	if !ok {
		return textResult("Please tell me which user ID to look up.")
	}
	raw, err := api.Get(ctx, "users/"+url.PathEscape(id), nil)
	if err != nil {
		return errorResult(err)
	}
	return h.policy.render(raw)
}

// SearchUsersByEmailHandler lists users sharing an email address.
type SearchUsersByEmailHandler struct {
	named
	policy jsonPolicy
}

func NewSearchUsersByEmailHandler(maxInline int) *SearchUsersByEmailHandler {
	return &SearchUsersByEmailHandler{named: SearchUsersByEmailIntent, policy: newJSONPolicy(maxInline)}
}

func (h *SearchUsersByEmailHandler) Handle(ctx context.Context, params map[string]any, api API) Result {
	email, ok := stringParam(params, EmailParam)
	if !ok {
		return textResult("Please tell me which email address to search for.")
	}
	raw, err := api.Get(ctx, "users-by-email", url.Values{EmailParam: {email}})
	if err != nil {
		return errorResult(err)
	}
	return h.policy.render(raw)
}
