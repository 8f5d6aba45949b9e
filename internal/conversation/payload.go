package conversation

import (
	"encoding/base64"
	"fmt"
	"strings"
)

// MaxDocumentBytes caps the decoded size of an uploaded document.
const MaxDocumentBytes = 5 << 20

func validatePayload(p DocumentPayload) error {
	if !p.Type.Valid() {
		return fmt.Errorf("%w: unknown document type %q", ErrInvalidDocument, p.Type)
	}
	hasText := strings.TrimSpace(p.Text) != ""
	hasURI := strings.TrimSpace(p.DataURI) != ""
	switch {
	case !hasText && !hasURI:
		return fmt.Errorf("%w: provide document text or an uploaded file", ErrEmptyInput)
	case hasText && hasURI:
		return fmt.Errorf("%w: provide either document text or an uploaded file, not both", ErrInvalidDocument)
	case hasURI:
		return validateDataURI(p.DataURI)
	}
	return nil
}

// validateDataURI accepts data:<image/*|application/pdf>;base64,<payload>
// whose decoded payload fits MaxDocumentBytes.
func validateDataURI(uri string) error {
	rest, ok := strings.CutPrefix(uri, "data:")
	if !ok {
		return fmt.Errorf("%w: not a data uri", ErrInvalidDocument)
	}
	meta, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return fmt.Errorf("%w: data uri has no payload", ErrInvalidDocument)
	}
	mime, enc, ok := strings.Cut(meta, ";")
	if !ok || enc != "base64" {
		return fmt.Errorf("%w: data uri must be base64 encoded", ErrInvalidDocument)
	}
	mime = strings.ToLower(mime)
	if !strings.HasPrefix(mime, "image/") && mime != "application/pdf" {
		return fmt.Errorf("%w: unsupported media type %q", ErrInvalidDocument, mime)
	}
	if base64.StdEncoding.DecodedLen(len(payload)) > MaxDocumentBytes+3 {
		return fmt.Errorf("%w: document larger than %d bytes", ErrInvalidDocument, MaxDocumentBytes)
	}
	n, err := base64.StdEncoding.Decode(make([]byte, base64.StdEncoding.DecodedLen(len(payload))), []byte(payload))
	if err != nil {
		return fmt.Errorf("%w: bad base64: %v", ErrInvalidDocument, err)
	}
	if n == 0 {
		return fmt.Errorf("%w: empty document", ErrEmptyInput)
	}
	if n > MaxDocumentBytes {
		return fmt.Errorf("%w: document larger than %d bytes", ErrInvalidDocument, MaxDocumentBytes)
	}
	return nil
}
