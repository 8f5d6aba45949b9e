// Package httpserver exposes conversations, the doctor directory and the
// voice transports over HTTP.
package httpserver

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/chadiek/medibot/internal/config"
	"github.com/chadiek/medibot/internal/conversation"
	"github.com/chadiek/medibot/internal/doctors"
	"github.com/chadiek/medibot/internal/middleware"
	"github.com/chadiek/medibot/internal/rtc"
)

// Deps are the services behind the routes.
type Deps struct {
	Registry     *conversation.Registry
	Doctors      *doctors.Directory
	Voice        *rtc.Handler
	AuthPassword string
	// TwilioAuthToken verifies delivery webhooks; PublicBaseURL is the URL
	// Twilio was given, when the server sits behind a proxy.
	TwilioAuthToken string
	PublicBaseURL   string
	Logger          zerolog.Logger
}

// Server bundles the router and its dependencies.
type Server struct {
	Echo *echo.Echo
	deps Deps
}

// New constructs the HTTP server with routes.
func New(d Deps) *Server {
	s := &Server{Echo: newEcho(d.Logger), deps: d}
	e := s.Echo
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	e.POST(config.SMSStatusPath, s.smsStatus, middleware.TwilioSignature(d.TwilioAuthToken, d.PublicBaseURL))

	api := e.Group("/api", requireAuth(d.AuthPassword))
	api.POST("/conversations", s.createConversation)
	api.GET("/conversations/:id/turns", s.listTurns)
	api.POST("/conversations/:id/turns", s.submitTurn)
	api.POST("/conversations/:id/documents", s.analyzeDocument)
	api.PUT("/conversations/:id/speech", s.setSpeech)
	api.DELETE("/conversations/:id", s.closeConversation)
	api.GET("/conversations/:id/voice", s.voice)
	api.POST("/conversations/:id/call", s.call)

	api.GET("/doctors", s.listDoctors)
	api.GET("/doctors/specializations", s.specializations)
	api.GET("/doctors/cities", s.cities)
	api.GET("/doctors/recommend", s.recommend)
	return s
}

// Handler returns the root http.Handler.
func (s *Server) Handler() http.Handler { return s.Echo }

type conversationResponse struct {
	ID    string              `json:"id"`
	Turns []conversation.Turn `json:"turns"`
}

type turnRequest struct {
	Text     string                `json:"text"`
	Language string                `json:"language"`
	Modality conversation.Modality `json:"modality"`
}

type speechRequest struct {
	Enabled *bool `json:"enabled"`
}

func (s *Server) createConversation(c echo.Context) error {
	st := s.deps.Registry.Create()
	return c.JSON(http.StatusCreated, conversationResponse{ID: st.ID, Turns: st.Controller.Turns()})
}

func (s *Server) conversation(c echo.Context) (*conversation.State, error) {
	st, err := s.deps.Registry.Get(c.Param("id"))
	if err != nil {
		return nil, echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	}
	return st, nil
}

func (s *Server) listTurns(c echo.Context) error {
	st, err := s.conversation(c)
	if err != nil {
		return err
	}
	return c.JSON(http.StatusOK, conversationResponse{ID: st.ID, Turns: st.Controller.Turns()})
}

func (s *Server) submitTurn(c echo.Context) error {
	st, err := s.conversation(c)
	if err != nil {
		return err
	}
	var req turnRequest
	if err := c.Bind(&req); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if req.Modality != conversation.ModalitySpoken {
		req.Modality = conversation.ModalityTyped
	}
	out, err := st.Controller.Submit(c.Request().Context(), req.Text, req.Modality, req.Language)
	return s.outcome(c, out, err)
}

func (s *Server) analyzeDocument(c echo.Context) error {
	st, err := s.conversation(c)
	if err != nil {
		return err
	}
	var p conversation.DocumentPayload
	if err := c.Bind(&p); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid request body")
	}
	if p.Modality != conversation.ModalitySpoken {
		p.Modality = conversation.ModalityTyped
	}
	out, err := st.Controller.AnalyzeDocument(c.Request().Context(), p)
	return s.outcome(c, out, err)
}

// outcome maps controller errors: invalid input is a 400, a failed boundary
// call still returns 200 with the apology turn and a notice.
func (s *Server) outcome(c echo.Context, out conversation.Outcome, err error) error {
	switch {
	case err == nil:
		return c.JSON(http.StatusOK, out)
	case errors.Is(err, conversation.ErrEmptyInput):
		return echo.NewHTTPError(http.StatusBadRequest, "nothing to submit")
	case errors.Is(err, conversation.ErrInvalidDocument):
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	case errors.Is(err, conversation.ErrBoundaryFailure), errors.Is(err, conversation.ErrBoundaryTimeout):
		return c.JSON(http.StatusOK, out)
	default:
		return err
	}
}

func (s *Server) setSpeech(c echo.Context) error {
	st, err := s.conversation(c)
	if err != nil {
		return err
	}
	var req speechRequest
	if err := c.Bind(&req); err != nil || req.Enabled == nil {
		return echo.NewHTTPError(http.StatusBadRequest, `body must be {"enabled": bool}`)
	}
	st.Speaker.SetEnabled(*req.Enabled)
	return c.JSON(http.StatusOK, map[string]bool{"enabled": st.Speaker.Enabled()})
}

func (s *Server) closeConversation(c echo.Context) error {
	err := s.deps.Registry.Close(c.Request().Context(), c.Param("id"))
	switch {
	case errors.Is(err, conversation.ErrNotFound):
		return echo.NewHTTPError(http.StatusNotFound, "conversation not found")
	case err != nil:
		return echo.NewHTTPError(http.StatusBadGateway, "conversation closed but not archived")
	}
	return c.NoContent(http.StatusNoContent)
}

func (s *Server) voice(c echo.Context) error {
	st, err := s.conversation(c)
	if err != nil {
		return err
	}
	s.deps.Voice.ServeVoice(c.Response(), c.Request(), st)
	return nil
}

func (s *Server) call(c echo.Context) error {
	st, err := s.conversation(c)
	if err != nil {
		return err
	}
	var offer rtc.Offer
	if err := c.Bind(&offer); err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid offer")
	}
	answer, err := s.deps.Voice.HandleOffer(c.Request().Context(), st, offer)
	if errors.Is(err, rtc.ErrInvalidOffer) {
		return echo.NewHTTPError(http.StatusBadRequest, "invalid offer")
	}
	if err != nil {
		s.deps.Logger.Error().Err(err).Str("conversation", st.ID).Msg("webrtc handle offer failed")
		return echo.NewHTTPError(http.StatusInternalServerError, "could not start call")
	}
	return c.JSON(http.StatusOK, answer)
}

func (s *Server) listDoctors(c echo.Context) error {
	f, err := doctors.FilterFromValues(c.QueryParams())
	if err != nil {
		return echo.NewHTTPError(http.StatusBadRequest, err.Error())
	}
	return c.JSON(http.StatusOK, s.deps.Doctors.Filter(f))
}

func (s *Server) specializations(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Doctors.Specializations())
}

func (s *Server) cities(c echo.Context) error {
	return c.JSON(http.StatusOK, s.deps.Doctors.Cities())
}

func (s *Server) recommend(c echo.Context) error {
	all, _ := strconv.ParseBool(c.QueryParam("all"))
	return c.JSON(http.StatusOK, s.deps.Doctors.Recommend(c.QueryParam("specialization"), all))
}

// smsStatus records Twilio delivery updates for emergency texts.
func (s *Server) smsStatus(c echo.Context) error {
	params, _ := c.Get(middleware.TwilioParamsKey).(map[string]string)
	ev := s.deps.Logger.Info()
	if params["ErrorCode"] != "" {
		ev = s.deps.Logger.Warn().Str("error_code", params["ErrorCode"])
	}
	ev.Str("message_sid", params["MessageSid"]).Str("status", params["MessageStatus"]).Msg("emergency sms status")
	return c.NoContent(http.StatusNoContent)
}
