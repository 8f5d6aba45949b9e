package speech

import (
	"strings"

	"github.com/chadiek/medibot/internal/llm"
)

// Reply is the part of an assistant turn that can be spoken.
type Reply struct {
	Text     string
	Triage   *llm.TriageResult
	Document *llm.DocumentResult
}

// Compose builds the utterance text for a reply. An empty result means
// nothing should be spoken.
func Compose(r Reply) string {
	var b strings.Builder
	b.WriteString(r.Text)
	if t := r.Triage; t != nil {
		if t.Informational() {
			if r.Text == "" {
				b.WriteString(t.PotentialCauses)
			}
		} else {
			if t.PotentialCauses != "" {
				if r.Text != "" {
					b.WriteString(" ")
				}
				b.WriteString("Potential issues: " + t.PotentialCauses + " ")
			}
			if t.HomeRemedies != "" {
				b.WriteString("For home remedies: " + t.HomeRemedies + " ")
			}
			if rec := t.DoctorPageRecommendation; rec != nil && rec.IntroText != "" {
				b.WriteString(rec.IntroText + " ")
			}
		}
	}
	if d := r.Document; d != nil && d.Summary != "" {
		b.WriteString(" Here's a summary of the document: " + d.Summary + ". Please remember, " + d.Disclaimer)
	}
	return strings.TrimSpace(b.String())
}
