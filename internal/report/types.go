package report

import "strings"

// Type 报表类型
type Type string

const (
	TypeTrip      Type = "trip"
	TypeStop      Type = "stop"
	TypeSummary   Type = "summary"
	TypeHistory   Type = "history"
	TypeOverspeed Type = "overspeed"
)

// Types lists every report type in menu order.
var Types = []Type{TypeTrip, TypeStop, TypeSummary, TypeHistory, TypeOverspeed}

// segments maps a report type to its backend path segment under /reports.
var segments = map[Type]string{
	TypeTrip:      "trips",
	TypeStop:      "stops",
	TypeSummary:   "summary",
	TypeHistory:   "history",
	TypeOverspeed: "overspeed",
}

func ParseType(s string) (Type, bool) {
	t := Type(strings.ToLower(strings.TrimSpace(s)))
	_, ok := segments[t]
	return t, ok
}

// Segment returns the backend path segment, e.g. "trips".
func (t Type) Segment() (string, bool) {
	s, ok := segments[t]
	return s, ok
}

// Title is the heading of a rendered report, e.g. "Trips Report".
func (t Type) Title() string {
	seg, ok := segments[t]
	if !ok || seg == "" {
		return "Report"
	}
	return strings.ToUpper(seg[:1]) + seg[1:] + " Report"
}

// TypeInfo describes a report type for the report menu.
type TypeInfo struct {
	Type    Type   `json:"type"`
	Segment string `json:"segment"`
	Title   string `json:"title"`
}

func Catalog() []TypeInfo {
	out := make([]TypeInfo, 0, len(Types))
	for _, t := range Types {
		out = append(out, TypeInfo{Type: t, Segment: segments[t], Title: t.Title()})
	}
	return out
}
