// Package intent maps detected intents to Auth0 Management API calls and
// shapes their responses for chat.
package intent

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/url"
	"strings"
	"unicode/utf8"
)

// Intent names reported by the NLU agent.
const (
	GetUserByIDIntent         = "GetUserByIdIntent"
	SearchUsersByEmailIntent  = "SearchUsersByEmailIntent"
	GetActiveUsersCountIntent = "GetActiveUsersCountIntent"
	GetTenantSettingsIntent   = "GetTenantSettingsIntent"
	GetStatsIntent            = "GetStatsIntent"
	GetULPTemplateIntent      = "GetULPTemplateIntent"
)

// Parameter names extracted by the NLU agent.
const (
	UserIDParam     = "Auth0-User-ID"
	EmailParam      = "email"
	DatePeriodParam = "date-period"
)

const (
	// DefaultMaxInlineLength keeps replies under Slack's 4000 character cap
	// once the fulfillment text is prefixed.
	DefaultMaxInlineLength = 3800

	CodeDelimiter = "```"
	NoDataMessage = "Unfortunately, we couldn't find any data on this."
)

// API is the management API surface handlers call.
type API interface {
	Get(ctx context.Context, endpoint string, query url.Values) (json.RawMessage, error)
}

// Result is what a handler produces for one intent.
// When NeedsFileUpload is set, Payload goes out as an attached file.
type Result struct {
	Payload         string
	NeedsFileUpload bool
	AdditionalText  string
}

// Handler owns exactly one intent. Handlers convert API and parameter
// errors into a textual Result; they do not return errors.
type Handler interface {
	Name() string
	CanHandle(intent string) bool
	Handle(ctx context.Context, params map[string]any, api API) Result
}

// named implements Name and CanHandle for a fixed intent name.
type named string

func (n named) Name() string { return string(n) }

func (n named) CanHandle(intent string) bool { return intent == string(n) }

func errorResult(err error) Result {
	return Result{Payload: fmt.Sprintf("An error occurred: %v", err)}
}

func textResult(s string) Result {
	return Result{Payload: s}
}

// jsonPolicy renders management API JSON inline, or as a file once the
// pretty-printed form exceeds maxInline characters.
type jsonPolicy struct {
	maxInline int
}

func newJSONPolicy(maxInline int) jsonPolicy {
	if maxInline <= 0 {
		maxInline = DefaultMaxInlineLength
	}
	return jsonPolicy{maxInline: maxInline}
}

func (p jsonPolicy) render(raw json.RawMessage) Result {
	if isEmptyJSON(raw) {
		return textResult(NoDataMessage)
	}
	pretty, err := prettyJSON(raw)
	if err != nil {
		return errorResult(err)
	}
	if utf8.RuneCountInString(pretty) > p.maxInline {
		return Result{Payload: pretty, NeedsFileUpload: true}
	}
	return Result{Payload: CodeDelimiter + pretty + CodeDelimiter}
}

// prettyJSON indents raw with four spaces, keeping the server's key order.
func prettyJSON(raw json.RawMessage) (string, error) {
	var buf bytes.Buffer
	if err := json.Indent(&buf, bytes.TrimSpace(raw), "", "    "); err != nil {
		return "", fmt.Errorf("format response: %w", err)
	}
	return buf.String(), nil
}

func isEmptyJSON(raw json.RawMessage) bool {
	switch strings.TrimSpace(string(raw)) {
	case "", "null", "{}", "[]", `""`:
		return true
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return false
	}
	switch t := v.(type) {
	case map[string]any:
		return len(t) == 0
	case []any:
		return len(t) == 0
	}
	return false
}

// stringParam returns a non-blank string parameter.
func stringParam(params map[string]any, key string) (string, bool) {
	v, ok := params[key]
	if !ok || v == nil {
		return "", false
	}
	s, ok := v.(string)
	if !ok {
		return "", false
	}
	s = strings.TrimSpace(s)
	return s, s != ""
}
