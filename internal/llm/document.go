package llm

import (
	"context"
	"fmt"
	"strings"
)

const documentSystemPrompt = `You analyze medical documents. Reply with a single JSON object {"summary": string, "disclaimer": string}.
For a prescription, list medication names, dosages, frequencies and other instructions.
For a lab report, list test names, values, units and reference ranges, and point out values outside the reference range.
Stick to what the document says. Do not interpret, diagnose, advise or recommend treatment.`

const documentFallbackSummary = "Could not analyze the document. Please try again."

type documentWire struct {
	Summary    *string `json:"summary"`
	Disclaimer string  `json:"disclaimer"`
}

// AnalyzeDocument summarizes a prescription or lab report given as pasted
// text or as an image data URI. The disclaimer is always DocumentDisclaimer.
func (c *CerebrasClient) AnalyzeDocument(ctx context.Context, req DocumentRequest) (DocumentResult, error) {
	if err := validateDocumentRequest(req); err != nil {
		return DocumentResult{}, err
	}
	content, err := c.complete(ctx, buildDocumentMessages(req))
	if err != nil {
		return DocumentResult{}, err
	}
	var w documentWire
	if err := decodeJSONContent(content, &w); err != nil {
		return DocumentResult{}, err
	}
	if w.Summary == nil {
		return DocumentResult{}, fmt.Errorf("%w: summary missing", ErrMalformedResponse)
	}
	summary := strings.TrimSpace(*w.Summary)
	if summary == "" {
		summary = documentFallbackSummary
	}
	return DocumentResult{Summary: summary, Disclaimer: DocumentDisclaimer}, nil
}

func validateDocumentRequest(req DocumentRequest) error {
	if !req.Type.Valid() {
		return fmt.Errorf("%w: unknown document type %q", ErrInvalidRequest, req.Type)
	}
	hasText := strings.TrimSpace(req.Text) != ""
	hasURI := req.DataURI != ""
	switch {
	case hasText && hasURI:
		return fmt.Errorf("%w: both documentText and documentDataUri set", ErrInvalidRequest)
	case !hasText && !hasURI:
		return fmt.Errorf("%w: no document content", ErrInvalidRequest)
	}
	return nil
}

func buildDocumentMessages(req DocumentRequest) []chatMessage {
	system := documentSystemPrompt + "\n" + languageInstruction(req.Language)
	header := "Document type: " + string(req.Type)
	if req.DataURI != "" {
		parts := []contentPart{
			{Type: "text", Text: header + "\nDocument content is in the attached image."},
			{Type: "image_url", ImageURL: &imageURL{URL: req.DataURI}},
		}
		return []chatMessage{{Role: "system", Content: system}, {Role: RoleUser, Content: parts}}
	}
	return []chatMessage{
		{Role: "system", Content: system},
		{Role: RoleUser, Content: header + "\nDocument content (pasted text):\n" + req.Text},
	}
}
