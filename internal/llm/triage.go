package llm

import (
	"context"
	"fmt"
	"net/url"
	"strings"
)

const triageSystemPrompt = `You are MediBot, an AI health assistant. Answer in a friendly, conversational and empathetic tone.
Reply with a single JSON object with these fields:
  "potentialCauses": string,
  "homeRemedies": string,
  "shouldSeeDoctor": boolean,
  "isDeveloperInfoResponse": boolean,
  "isListingAllDoctorsResponse": boolean,
  "doctorPageRecommendation": null or {"introText": string, "buttonText": string, "linkQuery": string}

Rules, checked in order:
1. The user asks who built or developed you: potentialCauses is a short note that you were designed and developed by the MediBot team to help with health questions; homeRemedies is ""; shouldSeeDoctor false; isDeveloperInfoResponse true; doctorPageRecommendation null.
2. The user asks to list or show all doctors: potentialCauses is "Okay, I can help with that. Here's information about the doctors on our panel:"; homeRemedies ""; isListingAllDoctorsResponse true; doctorPageRecommendation {"introText": "You can find all empaneled doctors on our dedicated page.", "buttonText": "View All Doctors on Page", "linkQuery": ""}.
3. The input is clearly not health related: potentialCauses is exactly "` + NonHealthRefusal + `"; homeRemedies ""; shouldSeeDoctor false; doctorPageRecommendation null.
4. Otherwise explain potential causes conversationally using the history for context. homeRemedies is a conversational paragraph of safe home care (no medicine) with simple how-to instructions for any exercise, breathing or yoga suggestion, or "" when nothing is safe. shouldSeeDoctor is true ONLY for urgent or severe symptoms such as chest pain, difficulty breathing, severe bleeding, stroke signs, sudden vision loss or suicidal thoughts. doctorPageRecommendation names the relevant specialization without listing doctor names; linkQuery is "specialization=<Specialization>" (use "General Medicine" for a general practitioner) or "".`

// triageWire mirrors the model output with pointers so missing required
// fields can be told apart from zero values.
type triageWire struct {
	PotentialCauses             *string                   `json:"potentialCauses"`
	HomeRemedies                *string                   `json:"homeRemedies"`
	ShouldSeeDoctor             *bool                     `json:"shouldSeeDoctor"`
	IsDeveloperInfoResponse     bool                      `json:"isDeveloperInfoResponse"`
	IsListingAllDoctorsResponse bool                      `json:"isListingAllDoctorsResponse"`
	DoctorPageRecommendation    *DoctorPageRecommendation `json:"doctorPageRecommendation"`
}

// Triage runs the symptom triage prompt and returns a validated, normalized result.
func (c *CerebrasClient) Triage(ctx context.Context, req TriageRequest) (TriageResult, error) {
	if strings.TrimSpace(req.Symptoms) == "" {
		return TriageResult{}, fmt.Errorf("%w: empty symptoms", ErrInvalidRequest)
	}
	content, err := c.complete(ctx, buildTriageMessages(req))
	if err != nil {
		return TriageResult{}, err
	}
	return parseTriage(content)
}

func buildTriageMessages(req TriageRequest) []chatMessage {
	msgs := []chatMessage{{Role: "system", Content: triageSystemPrompt + "\n" + languageInstruction(req.Language)}}
	for _, h := range req.ChatHistory {
		if h.Role != RoleUser && h.Role != RoleAssistant {
			continue
		}
		msgs = append(msgs, chatMessage{Role: h.Role, Content: h.Content})
	}
	return append(msgs, chatMessage{Role: RoleUser, Content: req.Symptoms})
}

func languageInstruction(lang string) string {
	if lang == "" {
		return "Respond in English."
	}
	s := "Respond in the language with code " + lang + "."
	if lang == "hi" {
		s += " If the user writes Hinglish, respond in Hinglish."
	}
	return s
}

func parseTriage(content string) (TriageResult, error) {
	var w triageWire
	if err := decodeJSONContent(content, &w); err != nil {
		return TriageResult{}, err
	}
	if w.PotentialCauses == nil || strings.TrimSpace(*w.PotentialCauses) == "" {
		return TriageResult{}, fmt.Errorf("%w: potentialCauses missing", ErrMalformedResponse)
	}
	if w.ShouldSeeDoctor == nil {
		return TriageResult{}, fmt.Errorf("%w: shouldSeeDoctor missing", ErrMalformedResponse)
	}
	res := TriageResult{
		PotentialCauses:             *w.PotentialCauses,
		ShouldSeeDoctor:             *w.ShouldSeeDoctor,
		IsDeveloperInfoResponse:     w.IsDeveloperInfoResponse,
		IsListingAllDoctorsResponse: w.IsListingAllDoctorsResponse,
		DoctorPageRecommendation:    w.DoctorPageRecommendation,
	}
	if w.HomeRemedies != nil {
		res.HomeRemedies = *w.HomeRemedies
	}
	return Normalize(res), nil
}

// General-practice wordings that map onto the directory's General Medicine listing.
var generalPracticeTerms = []string{"general practitioner", "medicine doctor", "general practice"}

// Normalize applies the fixed post-processing rules to a triage result.
// Informational answers never carry a doctor recommendation; general
// practice links point at General Medicine; blank recommendation texts get defaults.
func Normalize(r TriageResult) TriageResult {
	if r.IsDeveloperInfoResponse || strings.HasPrefix(r.PotentialCauses, "I am a health assistant") {
		r.DoctorPageRecommendation = nil
		return r
	}
	rec := r.DoctorPageRecommendation
	if rec == nil {
		return r
	}
	out := *rec
	if _, value, ok := strings.Cut(out.LinkQuery, "="); ok && value != "" {
		decoded, err := url.QueryUnescape(value)
		if err != nil {
			decoded = value
		}
		lower := strings.ToLower(decoded)
		for _, term := range generalPracticeTerms {
			if strings.Contains(lower, term) {
				out.LinkQuery = "specialization=General%20Medicine"
				break
			}
		}
	}
	if strings.TrimSpace(out.IntroText) == "" {
		out.IntroText = "Please see our doctors page for more options."
	}
	if strings.TrimSpace(out.ButtonText) == "" {
		out.ButtonText = "View Doctors on Page"
	}
	r.DoctorPageRecommendation = &out
	return r
}
