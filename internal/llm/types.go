package llm

import (
	"context"
	"errors"
)

var (
	// ErrMissingKey means the client was built without credentials.
	ErrMissingKey = errors.New("llm: api key missing")
	// ErrUnavailable covers transport failures and non-2xx responses.
	ErrUnavailable = errors.New("llm: service unavailable")
	// ErrMalformedResponse means the model answered with something that does
	// not match the expected result shape.
	ErrMalformedResponse = errors.New("llm: malformed response")
	// ErrInvalidRequest is returned before any network call for bad input.
	ErrInvalidRequest = errors.New("llm: invalid request")
)

// NonHealthRefusal is the fixed answer for questions outside the health domain.
const NonHealthRefusal = "I am a health assistant and can only help with health-related questions. For general knowledge questions, please use a search engine."

// DocumentDisclaimer is attached to every document analysis regardless of model output.
const DocumentDisclaimer = "This analysis is for informational purposes only and is not a substitute for professional medical advice, diagnosis, or treatment. Always seek the advice of your physician or other qualified health provider with any questions you may have regarding a medical condition. Never disregard professional medical advice or delay in seeking it because of something you have read or interpreted from this analysis."

// Chat roles used in history windows.
const (
	RoleUser      = "user"
	RoleAssistant = "assistant"
)

// HistoryMessage is one prior exchange entry sent as context.
type HistoryMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

// TriageRequest asks for a symptom triage.
type TriageRequest struct {
	Symptoms    string           `json:"symptoms"`
	Language    string           `json:"language,omitempty"`
	ChatHistory []HistoryMessage `json:"chatHistory,omitempty"`
}

// DoctorPageRecommendation points the user at the doctor directory.
type DoctorPageRecommendation struct {
	IntroText  string `json:"introText"`
	ButtonText string `json:"buttonText"`
	LinkQuery  string `json:"linkQuery,omitempty"`
}

// TriageResult is a validated triage answer.
type TriageResult struct {
	PotentialCauses             string                    `json:"potentialCauses"`
	HomeRemedies                string                    `json:"homeRemedies"`
	ShouldSeeDoctor             bool                      `json:"shouldSeeDoctor"`
	IsDeveloperInfoResponse     bool                      `json:"isDeveloperInfoResponse,omitempty"`
	IsListingAllDoctorsResponse bool                      `json:"isListingAllDoctorsResponse,omitempty"`
	DoctorPageRecommendation    *DoctorPageRecommendation `json:"doctorPageRecommendation"`
}

// Informational reports whether the result is a plain message (developer
// info or the non-health refusal) rather than a health answer.
func (r TriageResult) Informational() bool {
	return r.IsDeveloperInfoResponse || r.PotentialCauses == NonHealthRefusal
}

// DocumentType is the kind of medical document being analyzed.
type DocumentType string

const (
	DocumentPrescription DocumentType = "prescription"
	DocumentLabReport    DocumentType = "lab_report"
)

// Valid reports whether t is a known document type.
func (t DocumentType) Valid() bool {
	return t == DocumentPrescription || t == DocumentLabReport
}

// Label is the human wording, e.g. "lab report".
func (t DocumentType) Label() string {
	if t == DocumentLabReport {
		return "lab report"
	}
	return string(t)
}

// DocumentRequest asks for a document summary. Exactly one of DataURI and Text is set.
type DocumentRequest struct {
	DataURI  string       `json:"documentDataUri,omitempty"`
	Text     string       `json:"documentText,omitempty"`
	Type     DocumentType `json:"documentType"`
	Language string       `json:"language,omitempty"`
}

// DocumentResult is a validated document analysis.
type DocumentResult struct {
	Summary    string `json:"summary"`
	Disclaimer string `json:"disclaimer"`
}

// Boundary is the LLM service as seen by the conversation controller.
type Boundary interface {
	Triage(ctx context.Context, req TriageRequest) (TriageResult, error)
	AnalyzeDocument(ctx context.Context, req DocumentRequest) (DocumentResult, error)
}
