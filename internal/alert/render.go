package alert

import (
	"html"
	"strings"
)

// Message is the rendered chat representation of an alert.
type Message struct {
	Body string // plain text fallback
	HTML string
}

// Color returns the font color used for a status.
func Color(s Status) string {
	switch s {
	case StatusFiring:
		return "red"
	case StatusAcknowledged:
		return "orange"
	default:
		return "green"
	}
}

// Render builds the chat message for an alert in the given status. actor is
// the user who last changed the status by reaction, empty for system changes.
func Render(status Status, al *Alert, actor string) Message {
	header := strings.ToUpper(string(status))
	if actor != "" {
		header += " by " + actor
	}
	header += ": "

	desc := al.Description()
	return Message{
		Body: header + desc,
		HTML: `<strong><font color="` + Color(status) + `">` + html.EscapeString(header) +
			`</font></strong>` + html.EscapeString(desc),
	}
}
