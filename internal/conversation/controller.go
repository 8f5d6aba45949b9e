package conversation

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/rs/zerolog"

	"github.com/chadiek/medibot/internal/llm"
	"github.com/chadiek/medibot/internal/notify"
	"github.com/chadiek/medibot/internal/speech"
)

var (
	// ErrEmptyInput blocks a submission with no content; no boundary call is made.
	ErrEmptyInput = errors.New("conversation: empty input")
	// ErrBoundaryFailure means the LLM call failed or returned unusable data.
	ErrBoundaryFailure = errors.New("conversation: boundary failure")
	// ErrBoundaryTimeout means the LLM call exceeded its deadline.
	ErrBoundaryTimeout = errors.New("conversation: boundary timeout")
	// ErrInvalidDocument rejects a malformed or oversized document upload.
	ErrInvalidDocument = errors.New("conversation: invalid document")
)

// Fixed texts shown to the user.
const (
	Greeting      = "Hello! I'm MediBot. How can I help you with your health concerns today? You can also ask me to analyze a prescription or lab report by pasting text or uploading an image."
	ApologyText   = "I'm sorry, I encountered an error. Please try again."
	FailureNotice = "Could not get response."
	EmergencyText = "Your symptoms may require medical attention. Consider contacting emergency services if it's critical."
)

// DefaultTimeout bounds each boundary call when none is configured.
const DefaultTimeout = 30 * time.Second

// Speaker is the speech output used for spoken turns.
type Speaker interface {
	Speak(ctx context.Context, text, language string) error
}

// Deps wires a Controller to its collaborators. Only Boundary is required.
type Deps struct {
	Boundary llm.Boundary
	Notifier notify.Notifier
	Speaker  Speaker
	Timeout  time.Duration
	Logger   zerolog.Logger
	// OnTurn observes every append and every placeholder resolution.
	OnTurn func(Turn)
}

// Controller runs user-query to AI-response round trips and owns the log.
type Controller struct {
	id       string
	boundary llm.Boundary
	notifier notify.Notifier
	speaker  Speaker
	timeout  time.Duration
	log      zerolog.Logger
	onTurn   func(Turn)
	now      func() time.Time

	// mu orders "build history, append user turn, append placeholder" so
	// turns enter the log in submission order.
	mu    sync.Mutex
	turns *Log
}

// Outcome is what a submission produced. System is set when the result
// flagged urgent symptoms. Notice is a transient message for the caller to
// display after a failure.
type Outcome struct {
	User   Turn   `json:"user"`
	Reply  Turn   `json:"reply"`
	System *Turn  `json:"system,omitempty"`
	Notice string `json:"notice,omitempty"`
}

func NewController(id string, d Deps) *Controller {
	if d.Notifier == nil {
		d.Notifier = notify.NopNotifier{}
	}
	if d.Timeout <= 0 {
		d.Timeout = DefaultTimeout
	}
	return &Controller{
		id:       id,
		boundary: d.Boundary,
		notifier: d.Notifier,
		speaker:  d.Speaker,
		timeout:  d.Timeout,
		log:      d.Logger.With().Str("conversation", id).Logger(),
		onTurn:   d.OnTurn,
		now:      time.Now,
		turns:    NewLog(),
	}
}

// ID returns the conversation id.
func (c *Controller) ID() string { return c.id }

// Turns returns a copy of the conversation log.
func (c *Controller) Turns() []Turn { return c.turns.Turns() }

// Len returns the number of log entries.
func (c *Controller) Len() int { return c.turns.Len() }

// Greet appends the assistant greeting that opens a conversation.
func (c *Controller) Greet() Turn {
	t := Turn{ID: newID("ai"), Role: RoleAssistant, Text: Greeting, Timestamp: c.now()}
	c.append(t)
	return t
}

// Submit sends text to the triage boundary. Whitespace-only text fails with
// ErrEmptyInput and leaves the log untouched. A boundary failure still
// returns an Outcome: the placeholder holds the apology and the error wraps
// ErrBoundaryFailure or ErrBoundaryTimeout.
func (c *Controller) Submit(ctx context.Context, text string, modality Modality, language string) (Outcome, error) {
	if strings.TrimSpace(text) == "" {
		return Outcome{}, ErrEmptyInput
	}
	now := c.now()
	c.mu.Lock()
	history := HistoryWindow(c.turns.Turns(), HistoryWindowSize)
	user := Turn{ID: newID("user"), Role: RoleUser, Text: text, Modality: modality, Language: language, History: history, Timestamp: now}
	placeholder := Turn{ID: newID("ai"), Role: RoleAssistant, Pending: true, Modality: modality, Language: language, Timestamp: now}
	c.append(user)
	c.append(placeholder)
	c.mu.Unlock()

	log := c.log.With().Str("turn", user.ID).Logger()
	callCtx, cancel := c.boundaryContext(ctx)
	res, err := c.boundary.Triage(callCtx, llm.TriageRequest{
		Symptoms:    text,
		Language:    speech.BaseLanguage(language),
		ChatHistory: history,
	})
	err = classify(callCtx, err)
	cancel()

	out := Outcome{User: user}
	if err != nil {
		log.Warn().Err(err).Msg("triage failed")
		out.Reply = c.resolve(placeholder.ID, Turn{Role: RoleAssistant, Text: ApologyText, Modality: modality, Language: language, Result: Result{Kind: ResultApology}, Timestamp: c.now()})
		out.Notice = FailureNotice
		c.speak(ctx, modality, out.Reply, language)
		return out, err
	}

	reply := Turn{Role: RoleAssistant, Modality: modality, Language: language, Result: Result{Kind: ResultTriage, Triage: &res}, Timestamp: c.now()}
	if res.Informational() {
		reply.Text = res.PotentialCauses
	}
	out.Reply = c.resolve(placeholder.ID, reply)
	log.Info().Bool("should_see_doctor", res.ShouldSeeDoctor).Int("history", len(history)).Msg("triage resolved")
	c.speak(ctx, modality, out.Reply, language)

	if res.ShouldSeeDoctor {
		out.System = c.raiseEmergency(ctx, user)
	}
	return out, nil
}

// DocumentPayload is a document analysis request. Exactly one of Text and
// DataURI must be set.
type DocumentPayload struct {
	Type     llm.DocumentType `json:"documentType"`
	Text     string           `json:"documentText,omitempty"`
	DataURI  string           `json:"documentDataUri,omitempty"`
	Language string           `json:"language,omitempty"`
	Modality Modality         `json:"modality,omitempty"`
}

// AnalyzeDocument summarizes a prescription or lab report into a new turn.
func (c *Controller) AnalyzeDocument(ctx context.Context, p DocumentPayload) (Outcome, error) {
	if err := validatePayload(p); err != nil {
		return Outcome{}, err
	}
	source := "pasted text"
	if p.DataURI != "" {
		source = "uploaded file"
	}
	label := p.Type.Label()
	placeholder := Turn{
		ID:        newID("ai"),
		Role:      RoleAssistant,
		Text:      "Analyzing " + label + " from " + source + "...",
		Pending:   true,
		Modality:  p.Modality,
		Language:  p.Language,
		Timestamp: c.now(),
	}
	c.mu.Lock()
	c.append(placeholder)
	c.mu.Unlock()

	callCtx, cancel := c.boundaryContext(ctx)
	res, err := c.boundary.AnalyzeDocument(callCtx, llm.DocumentRequest{
		DataURI:  p.DataURI,
		Text:     p.Text,
		Type:     p.Type,
		Language: speech.BaseLanguage(p.Language),
	})
	err = classify(callCtx, err)
	cancel()

	var out Outcome
	if err != nil {
		c.log.Warn().Err(err).Str("document_type", string(p.Type)).Msg("document analysis failed")
		out.Reply = c.resolve(placeholder.ID, Turn{Role: RoleAssistant, Text: "Sorry, error analyzing " + label + ".", Modality: p.Modality, Language: p.Language, Result: Result{Kind: ResultApology}, Timestamp: c.now()})
		out.Notice = FailureNotice
		c.speak(ctx, p.Modality, out.Reply, p.Language)
		return out, err
	}
	out.Reply = c.resolve(placeholder.ID, Turn{
		Role:     RoleAssistant,
		Text:     "Here is the analysis of your " + label + ":",
		Modality: p.Modality,
		Language: p.Language,
		Result: Result{Kind: ResultDocument, Document: &DocumentAnalysis{
			Type:       p.Type,
			Summary:    res.Summary,
			Disclaimer: llm.DocumentDisclaimer,
		}},
		Timestamp: c.now(),
	})
	c.speak(ctx, p.Modality, out.Reply, p.Language)
	return out, nil
}

// boundaryContext detaches the call from ctx cancellation: closing the
// caller cannot cancel an in-flight request, only the deadline can.
func (c *Controller) boundaryContext(ctx context.Context) (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.WithoutCancel(ctx), c.timeout)
}

func classify(callCtx context.Context, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(callCtx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrBoundaryTimeout, err)
	}
	return fmt.Errorf("%w: %w", ErrBoundaryFailure, err)
}

func (c *Controller) raiseEmergency(ctx context.Context, user Turn) *Turn {
	nctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), 10*time.Second)
	defer cancel()
	err := c.notifier.Notify(nctx, notify.Emergency{
		ConversationID: c.id,
		TurnID:         user.ID,
		Symptoms:       user.Text,
		Language:       user.Language,
		Timestamp:      c.now(),
	})
	if err != nil {
		c.log.Error().Err(err).Str("turn", user.ID).Msg("emergency notification failed")
	}
	sys := Turn{ID: newID("system"), Role: RoleSystem, Text: EmergencyText, Timestamp: c.now()}
	c.append(sys)
	return &sys
}

func (c *Controller) speak(ctx context.Context, modality Modality, t Turn, language string) {
	if c.speaker == nil || modality != ModalitySpoken {
		return
	}
	text := speech.Compose(t.Reply())
	if text == "" {
		return
	}
	if err := c.speaker.Speak(ctx, text, language); err != nil {
		c.log.Warn().Err(err).Msg("speak failed")
	}
}

func (c *Controller) append(t Turn) {
	c.turns.Append(t)
	if c.onTurn != nil {
		c.onTurn(t)
	}
}

func (c *Controller) resolve(id string, t Turn) Turn {
	resolved, err := c.turns.Resolve(id, t)
	if err != nil {
		// only reachable if an id is reused; keep the caller's view consistent
		c.log.Error().Err(err).Str("turn", id).Msg("resolve placeholder")
		t.ID = id
		return t
	}
	if c.onTurn != nil {
		c.onTurn(resolved)
	}
	return resolved
}

func newID(prefix string) string {
	id, err := gonanoid.New(12)
	if err != nil {
		return fmt.Sprintf("%s-%d", prefix, time.Now().UnixNano())
	}
	return prefix + "-" + id
}
