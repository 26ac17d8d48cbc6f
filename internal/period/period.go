// Package period normalizes the billing period fields found in gateway payloads.
//
// Gateway objects report their period in several shapes: top-level
// period_start/period_end (invoices), current_period_start/current_period_end
// (subscriptions), nested inside the first line item, or only as a start_date.
// Resolve walks those shapes in a fixed order and always produces a usable
// (start, end) pair, synthesizing one when nothing in the payload is valid.
package period

import (
	"encoding/json"
	"math"
	"strconv"
	"strings"
	"time"

	"github.com/jmylchreest/subledger/internal/constants"
)

// maxUnixSeconds is 9999-12-31T23:59:59Z; anything later is not a real date.
const maxUnixSeconds = 253402300799

// Source identifies which resolution rule produced a Period.
type Source string

const (
	SourceTopLevel  Source = "top_level"
	SourceLineItem  Source = "line_item"
	SourceStartDate Source = "start_date"
	SourceFallback  Source = "fallback"
)

// LineItem holds one line item's period bounds as decoded from JSON.
type LineItem struct {
	Start any
	End   any
}

// Fields is the union of period shapes a gateway object may carry.
// Values are kept as decoded (float64, json.Number, string, nil, ...) and
// validated only during Resolve.
type Fields struct {
	PeriodStart any
	PeriodEnd   any
	LineItems   []LineItem
	StartDate   any
}

// Period is a resolved billing period.
type Period struct {
	Start  time.Time
	End    time.Time
	Source Source
}

// StartISO returns the start as an RFC3339 string.
func (p Period) StartISO() string { return p.Start.UTC().Format(time.RFC3339) }

// EndISO returns the end as an RFC3339 string.
func (p Period) EndISO() string { return p.End.UTC().Format(time.RFC3339) }

// Synthesized reports whether no payload value was used.
func (p Period) Synthesized() bool { return p.Source == SourceFallback }

// Resolve picks the first usable period from f. It never fails: malformed
// values are treated as absent and the final fallback is (now, now+30d).
func Resolve(f Fields, now time.Time) Period {
	if start, end, ok := pair(f.PeriodStart, f.PeriodEnd); ok {
		return Period{Start: start, End: end, Source: SourceTopLevel}
	}

	if len(f.LineItems) > 0 {
		if start, end, ok := pair(f.LineItems[0].Start, f.LineItems[0].End); ok {
			return Period{Start: start, End: end, Source: SourceLineItem}
		}
	}

	if start, ok := Timestamp(f.StartDate); ok {
		return Period{Start: start, End: start.Add(constants.DefaultPeriodLength), Source: SourceStartDate}
	}

	now = now.UTC().Truncate(time.Second)
	return Period{Start: now, End: now.Add(constants.DefaultPeriodLength), Source: SourceFallback}
}

// FromNow returns the synthesized default period starting at now.
func FromNow(now time.Time) Period {
	return Resolve(Fields{}, now)
}

func pair(rawStart, rawEnd any) (time.Time, time.Time, bool) {
	start, ok := Timestamp(rawStart)
	if !ok {
		return time.Time{}, time.Time{}, false
	}
	end, ok := Timestamp(rawEnd)
	if !ok || end.Before(start) {
		return time.Time{}, time.Time{}, false
	}
	return start, end, true
}

// Timestamp converts a decoded JSON value holding unix seconds into a time.
// Non-numeric, non-positive, non-finite and out-of-range values are rejected.
func Timestamp(v any) (time.Time, bool) {
	var secs float64
	switch n := v.(type) {
	case float64:
		secs = n
	case float32:
		secs = float64(n)
	case int:
		secs = float64(n)
	case int64:
		secs = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(n), 64)
		if err != nil {
			return time.Time{}, false
		}
		secs = f
	default:
		return time.Time{}, false
	}

	if math.IsNaN(secs) || math.IsInf(secs, 0) || secs <= 0 || secs > maxUnixSeconds {
		return time.Time{}, false
	}
	return time.Unix(int64(secs), 0).UTC(), true
}

// FieldsFromObject extracts period fields from a decoded gateway object.
func FieldsFromObject(obj map[string]any) Fields {
	f := Fields{
		PeriodStart: obj["period_start"],
		PeriodEnd:   obj["period_end"],
		StartDate:   obj["start_date"],
	}
	if f.PeriodStart == nil && f.PeriodEnd == nil {
		f.PeriodStart = obj["current_period_start"]
		f.PeriodEnd = obj["current_period_end"]
	}

	// Invoices: lines.data[].period.{start,end}
	for _, item := range listData(obj["lines"]) {
		if p, ok := item["period"].(map[string]any); ok {
			f.LineItems = append(f.LineItems, LineItem{Start: p["start"], End: p["end"]})
		}
	}
	// Subscriptions: items.data[].current_period_{start,end}
	for _, item := range listData(obj["items"]) {
		f.LineItems = append(f.LineItems, LineItem{
			Start: item["current_period_start"],
			End:   item["current_period_end"],
		})
	}
	return f
}

func listData(v any) []map[string]any {
	list, ok := v.(map[string]any)
	if !ok {
		return nil
	}
	raw, ok := list["data"].([]any)
	if !ok {
		return nil
	}
	items := make([]map[string]any, 0, len(raw))
	for _, r := range raw {
		if m, ok := r.(map[string]any); ok {
			items = append(items, m)
		}
	}
	return items
}
