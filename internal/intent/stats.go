package intent

import (
	"context"
	"fmt"
	"net/url"
	"strings"
	"time"
)

// Layouts accepted for date-period bounds once a trailing "Z" is stripped.
// Bounds without an offset are taken as UTC.
var dateLayouts = []string{
	"2006-01-02T15:04:05.999999999Z07:00",
	"2006-01-02T15:04:05.999999999",
	"2006-01-02T15:04Z07:00",
	"2006-01-02T15:04",
	"2006-01-02",
}

// GetStatsHandler fetches daily stats for an optional date range.
type GetStatsHandler struct {
	named
	policy jsonPolicy
	now    func() time.Time
}

func NewGetStatsHandler(maxInline int, now func() time.Time) *GetStatsHandler {
	if now == nil {
		now = time.Now
	}
	return &GetStatsHandler{named: GetStatsIntent, policy: newJSONPolicy(maxInline), now: now}
}

func (h *GetStatsHandler) Handle(ctx context.Context, params map[string]any, api API) Result {
	startRaw, endRaw := datePeriod(params[DatePeriodParam])

	query := url.Values{}
	var start, end time.Time
	var err error
	if startRaw != "" {
		if start, err = h.parseBound(startRaw); err != nil {
			return errorResult(err)
		}
	}
	if endRaw != "" {
		if end, err = h.parseBound(endRaw); err != nil {
			return errorResult(err)
		}
	}
	if !start.IsZero() && !end.IsZero() && start.After(end) {
		start, end = end, start
	}
	if !start.IsZero() {
		query.Set("from", start.Format("20060102"))
	}
	if !end.IsZero() {
		query.Set("to", end.Format("20060102"))
	}

	raw, err := api.Get(ctx, "stats/daily", query)
	if err != nil {
		return errorResult(err)
	}
	res := h.policy.render(raw)
	if res.Payload == NoDataMessage {
		return res
	}
	res.AdditionalText = describeRange(start, end)
	return res
}

// parseBound parses one ISO-8601 bound. A bound in the future is moved to
// the current year: the agent resolves phrases like "last week" into the
// upcoming year.
func (h *GetStatsHandler) parseBound(s string) (time.Time, error) {
	s = strings.TrimSuffix(strings.TrimSpace(s), "Z")
	var t time.Time
	var err error
	for _, layout := range dateLayouts {
		if t, err = time.Parse(layout, s); err == nil {
			break
		}
	}
	if err != nil {
		return time.Time{}, fmt.Errorf("invalid date %q", s)
	}

	now := h.now().UTC()
	if t.After(now) {
		moved := time.Date(now.Year(), t.Month(), t.Day(), t.Hour(), t.Minute(), t.Second(), t.Nanosecond(), t.Location())
		if moved.Month() != t.Month() || moved.Day() != t.Day() {
			return time.Time{}, fmt.Errorf("day is out of range for month: %s in %d", t.Format("01-02"), now.Year())
		}
		t = moved
	}
	return t, nil
}

// datePeriod extracts startDate and endDate from a date-period parameter,
// which is either an object or a list whose first element is that object.
func datePeriod(v any) (start, end string) {
	if list, ok := v.([]any); ok {
		if len(list) == 0 {
			return "", ""
		}
		v = list[0]
	}
	m, ok := v.(map[string]any)
	if !ok {
		return "", ""
	}
	start, _ = m["startDate"].(string)
	end, _ = m["endDate"].(string)
	return start, end
}

func describeRange(start, end time.Time) string {
	const layout = "02-01-2006"
	switch {
	case !start.IsZero() && !end.IsZero():
		return fmt.Sprintf("Daily stats from `%s` to `%s`", start.Format(layout), end.Format(layout))
	case !start.IsZero():
		return fmt.Sprintf("Daily stats from `%s`", start.Format(layout))
	case !end.IsZero():
		return fmt.Sprintf("Daily stats to `%s`", end.Format(layout))
	default:
		return "Daily stats:"
	}
}
