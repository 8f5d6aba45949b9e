package conversation

import (
	"strings"
	"time"

	"github.com/chadiek/medibot/internal/llm"
	"github.com/chadiek/medibot/internal/speech"
)

// Role is the author of a log entry.
type Role string

const (
	RoleUser      Role = "user"
	RoleAssistant Role = "assistant"
	RoleSystem    Role = "system"
)

// Modality is how the user produced a turn's input.
type Modality string

const (
	ModalityTyped  Modality = "typed"
	ModalitySpoken Modality = "spoken"
)

// ResultKind tags the structured payload of an assistant turn.
type ResultKind string

const (
	ResultNone     ResultKind = "none"
	ResultTriage   ResultKind = "triage"
	ResultDocument ResultKind = "document"
	ResultApology  ResultKind = "apology"
)

// DocumentAnalysis is a document result together with the analyzed type.
type DocumentAnalysis struct {
	Type       llm.DocumentType `json:"type"`
	Summary    string           `json:"summary"`
	Disclaimer string           `json:"disclaimer"`
}

// Result is the tagged outcome of an assistant turn. Exactly the field
// matching Kind is set.
type Result struct {
	Kind     ResultKind        `json:"kind"`
	Triage   *llm.TriageResult `json:"triage,omitempty"`
	Document *DocumentAnalysis `json:"document,omitempty"`
}

// Turn is one entry of the conversation log.
type Turn struct {
	ID        string               `json:"id"`
	Role      Role                 `json:"role"`
	Text      string               `json:"text"`
	Modality  Modality             `json:"modality,omitempty"`
	Language  string               `json:"language,omitempty"`
	Pending   bool                 `json:"pending"`
	Result    Result               `json:"result"`
	History   []llm.HistoryMessage `json:"history,omitempty"`
	Timestamp time.Time            `json:"timestamp"`
}

// Reply is the speakable view of the turn.
func (t Turn) Reply() speech.Reply {
	r := speech.Reply{Text: t.Text, Triage: t.Result.Triage}
	if d := t.Result.Document; d != nil {
		r.Document = &llm.DocumentResult{Summary: d.Summary, Disclaimer: d.Disclaimer}
	}
	return r
}

// Serialize renders a turn as history context. Plain text wins; otherwise
// the structured result is described. Pending and system turns serialize
// to "" and are never sent as history.
func Serialize(t Turn) string {
	if t.Role == RoleSystem || t.Pending {
		return ""
	}
	if strings.TrimSpace(t.Text) != "" {
		return t.Text
	}
	if tr := t.Result.Triage; tr != nil {
		if tr.Informational() {
			return tr.PotentialCauses
		}
		var b strings.Builder
		if tr.PotentialCauses != "" {
			b.WriteString("Potential causes: " + tr.PotentialCauses + ". ")
		}
		if tr.HomeRemedies != "" {
			b.WriteString("Home remedies: " + tr.HomeRemedies + ". ")
		}
		if rec := tr.DoctorPageRecommendation; rec != nil && rec.IntroText != "" {
			b.WriteString("Doctor suggestion: " + rec.IntroText + ".")
		}
		return strings.TrimSpace(b.String())
	}
	if d := t.Result.Document; d != nil {
		return strings.TrimSpace("Analyzed " + string(d.Type) + ": " + d.Summary + ". Disclaimer: " + d.Disclaimer)
	}
	return ""
}

// HistoryWindowSize is the number of prior entries sent with a request.
const HistoryWindowSize = 6

// HistoryWindow returns the last n eligible turns, oldest first. Eligible
// means neither pending nor system and with a non-empty serialization.
func HistoryWindow(turns []Turn, n int) []llm.HistoryMessage {
	var out []llm.HistoryMessage
	for _, t := range turns {
		content := Serialize(t)
		if strings.TrimSpace(content) == "" {
			continue
		}
		role := llm.RoleAssistant
		if t.Role == RoleUser {
			role = llm.RoleUser
		}
		out = append(out, llm.HistoryMessage{Role: role, Content: content})
	}
	if len(out) > n {
		out = out[len(out)-n:]
	}
	return out
}
