package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
)

// GetActiveUsersCountHandler reports monthly active users.
type GetActiveUsersCountHandler struct {
	named
}

func NewGetActiveUsersCountHandler() *GetActiveUsersCountHandler {
	return &GetActiveUsersCountHandler{named: GetActiveUsersCountIntent}
}

func (h *GetActiveUsersCountHandler) Handle(ctx context.Context, _ map[string]any, api API) Result {
	raw, err := api.Get(ctx, "stats/active-users", nil)
	if err != nil {
		return errorResult(err)
	}
	count := string(bytes.TrimSpace(raw))
	var n json.Number
	if err := json.Unmarshal(raw, &n); err == nil {
		count = n.String()
	}
	return textResult(fmt.Sprintf("Found %s monthly active users on your tenant.", count))
}

// GetTenantSettingsHandler dumps the tenant settings.
type GetTenantSettingsHandler struct {
	named
	policy jsonPolicy
}

func NewGetTenantSettingsHandler(maxInline int) *GetTenantSettingsHandler {
	return &GetTenantSettingsHandler{named: GetTenantSettingsIntent, policy: newJSONPolicy(maxInline)}
}

func (h *GetTenantSettingsHandler) Handle(ctx context.Context, _ map[string]any, api API) Result {
	raw, err := api.Get(ctx, "tenants/settings", nil)
	if err != nil {
		return errorResult(err)
	}
	return h.policy.render(raw)
}
