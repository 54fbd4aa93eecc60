package chat

import "fmt"

// SystemUser labels notices generated by the relay itself.
const SystemUser = "system"

// Markers that open join and leave notices.
const (
	JoinMarker  = "🔹"
	LeaveMarker = "🔻"
)

// Envelope is one broadcast unit. Browser sessions receive it as JSON.
type Envelope struct {
	User string `json:"user"`
	Text string `json:"text"`
}

func SystemNotice(text string) Envelope {
	return Envelope{User: SystemUser, Text: text}
}

func JoinNotice(username string) Envelope {
	return SystemNotice(fmt.Sprintf("%s %s joined the chat.", JoinMarker, username))
}

func LeaveNotice(username string) Envelope {
	return SystemNotice(fmt.Sprintf("%s %s left the chat.", LeaveMarker, username))
}

// TerminalLine renders e for a plain-text client. System notices are sent
// bare.
func (e Envelope) TerminalLine() string {
	if e.User == SystemUser {
		return e.Text
	}
	return e.User + ": " + e.Text
}
