package relay

import "strings"

// RawEvent is a notification as the host listener delivers it.
// ExpandedText is the long form ("bigText"), ShortText the one-line form.
type RawEvent struct {
	SourceApp    string
	Title        string
	ShortText    string
	ExpandedText string
	PostedAt     int64 // unix milliseconds, host supplied
	Ongoing      bool
}

// Record is what subscribers receive. The JSON shape is the event stream
// wire format.
type Record struct {
	SourceApp string `json:"package_name"`
	Title     string `json:"title"`
	Body      string `json:"text"`
	PostedAt  int64  `json:"posted_at"`
	IsOngoing bool   `json:"is_ongoing"`
}

// NewRecord extracts a record from a raw event: title and body are trimmed,
// and the body prefers the expanded text over the short text.
func NewRecord(ev RawEvent) Record {
	body := strings.TrimSpace(ev.ExpandedText)
	if body == "" {
		body = strings.TrimSpace(ev.ShortText)
	}
	return Record{
		SourceApp: ev.SourceApp,
		Title:     strings.TrimSpace(ev.Title),
		Body:      body,
		PostedAt:  ev.PostedAt,
		IsOngoing: ev.Ongoing,
	}
}
