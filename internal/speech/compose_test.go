package speech

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/chadiek/medibot/internal/llm"
)

func TestCompose(t *testing.T) {
	triage := &llm.TriageResult{
		PotentialCauses: "It may be a tension headache.",
		HomeRemedies:    "Rest in a dark room.",
		DoctorPageRecommendation: &llm.DoctorPageRecommendation{
			IntroText: "You might consider consulting a Neurologist.",
		},
	}
	assert.Equal(t,
		"Potential issues: It may be a tension headache. For home remedies: Rest in a dark room. You might consider consulting a Neurologist.",
		Compose(Reply{Triage: triage}))

	refusal := &llm.TriageResult{PotentialCauses: llm.NonHealthRefusal}
	assert.Equal(t, llm.NonHealthRefusal, Compose(Reply{Text: llm.NonHealthRefusal, Triage: refusal}))
	assert.Equal(t, llm.NonHealthRefusal, Compose(Reply{Triage: refusal}))

	doc := &llm.DocumentResult{Summary: "Hemoglobin is low", Disclaimer: "this is not medical advice."}
	assert.Equal(t,
		"Here is the analysis of your lab report: Here's a summary of the document: Hemoglobin is low. Please remember, this is not medical advice.",
		Compose(Reply{Text: "Here is the analysis of your lab report:", Document: doc}))

	assert.Equal(t, "I'm sorry, I encountered an error. Please try again.", Compose(Reply{Text: "I'm sorry, I encountered an error. Please try again."}))
	assert.Empty(t, Compose(Reply{}))
	assert.Empty(t, Compose(Reply{Document: &llm.DocumentResult{}}))
}

func TestChunkReply(t *testing.T) {
	assert.Nil(t, chunkReply("   "))
	assert.Equal(t, []string{"Hello there.", "How are you?", "Fine"}, chunkReply("Hello there. How are you?\nFine"))
}
