package report

import (
	"net/url"
	"strings"
	"time"

	"openfms/console/internal/apperr"
)

// ISOLayout is the instant format the backend expects, e.g. 2025-06-01T00:00:00.000Z.
const ISOLayout = "2006-01-02T15:04:05.000Z"

// DefaultRange is how far back From reaches when left empty.
const DefaultRange = 7 * 24 * time.Hour

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02T15:04",
	"2006-01-02",
}

// Request is the operator's selection as entered.
type Request struct {
	Type     Type   `json:"type"`
	DeviceID string `json:"deviceId"`
	From     string `json:"from"`
	To       string `json:"to"`
}

// Query is a validated request, ready to be sent.
type Query struct {
	Type     Type      `json:"type"`
	Segment  string    `json:"segment"`
	DeviceID string    `json:"deviceId"`
	From     time.Time `json:"from"`
	To       time.Time `json:"to"`
}

// Normalize validates the selection and resolves the date range to UTC instants.
// An empty To is today at UTC midnight, an empty From is seven days before To.
func (r Request) Normalize(now time.Time) (Query, error) {
	deviceID := strings.TrimSpace(r.DeviceID)
	if r.Type == "" || deviceID == "" {
		return Query{}, apperr.ErrMissingSelection
	}
	segment, ok := r.Type.Segment()
	if !ok {
		return Query{}, apperr.Validation("UNKNOWN_REPORT_TYPE", "Unknown report type: "+string(r.Type))
	}

	to := midnightUTC(now)
	if strings.TrimSpace(r.To) != "" {
		t, err := parseDate(r.To)
		if err != nil {
			return Query{}, apperr.Validation("INVALID_TO_DATE", "Invalid end date: "+r.To)
		}
		to = t
	}
	from := to.Add(-DefaultRange)
	if strings.TrimSpace(r.From) != "" {
		t, err := parseDate(r.From)
		if err != nil {
			return Query{}, apperr.Validation("INVALID_FROM_DATE", "Invalid start date: "+r.From)
		}
		from = t
	}
	if from.After(to) {
		return Query{}, apperr.Validation("INVALID_RANGE", "Start date must not be after end date")
	}

	return Query{Type: r.Type, Segment: segment, DeviceID: deviceID, From: from, To: to}, nil
}

// Path is the backend path, e.g. /reports/trips.
func (q Query) Path() string {
	return "/reports/" + q.Segment
}

// RawQuery keeps the ':' of the instants unescaped, as the backend receives them from browsers.
func (q Query) RawQuery() string {
	return "deviceId=" + url.QueryEscape(q.DeviceID) +
		"&from=" + q.From.UTC().Format(ISOLayout) +
		"&to=" + q.To.UTC().Format(ISOLayout)
}

func (q Query) String() string {
	return q.Path() + "?" + q.RawQuery()
}

func parseDate(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	var lastErr error
	for _, layout := range dateLayouts {
		t, err := time.Parse(layout, s)
		if err == nil {
			return t.UTC(), nil
		}
		lastErr = err
	}
	return time.Time{}, lastErr
}

func midnightUTC(t time.Time) time.Time {
	y, m, d := t.UTC().Date()
	return time.Date(y, m, d, 0, 0, 0, 0, time.UTC)
}
