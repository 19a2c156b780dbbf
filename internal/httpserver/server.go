package httpserver

import (
	"context"
	"errors"
	"net/http"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"github.com/chadiek/voice-bridge/internal/config"
	"github.com/chadiek/voice-bridge/internal/logging"
	"github.com/chadiek/voice-bridge/internal/metrics"
	"github.com/chadiek/voice-bridge/internal/twilio"
)

// StreamHandler runs one media stream connection until it ends.
type StreamHandler interface {
	Serve(ctx context.Context, conn *websocket.Conn) error
}

// Deps are the collaborators behind the HTTP surface. Caller is nil when
// Twilio credentials are missing.
type Deps struct {
	Config  config.Config
	Streams StreamHandler
	Caller  twilio.Caller
	TwiML   *twilio.TwiML
	Metrics *metrics.Metrics
	Log     *logging.Logger
}

// Server bundles HTTP router and dependencies.
type Server struct {
	Router http.Handler

	deps     Deps
	log      *logging.Logger
	upgrader websocket.Upgrader
}

type outboundRequest struct {
	To string `json:"to"`
}

type outboundResponse struct {
	Success bool   `json:"success"`
	CallSid string `json:"callSid"`
}

type errorResponse struct {
	Error string `json:"error"`
}

// New constructs the HTTP server with routes.
func New(d Deps) *Server {
	if d.Log == nil {
		d.Log = logging.Nop()
	}
	if d.Metrics == nil {
		d.Metrics = metrics.New()
	}
	if d.TwiML == nil {
		d.TwiML = &twilio.TwiML{Host: d.Config.PublicHostname()}
	}
	s := &Server{
		deps: d,
		log:  d.Log.Sub("http"),
		// Twilio does not send an Origin header.
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}

	e := NewRouter(s.log)
	e.GET("/", s.root)
	e.POST("/ping", s.ping)
	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })

	var twimlMiddleware []echo.MiddlewareFunc
	if d.Config.Twilio.ValidateSignature {
		twimlMiddleware = append(twimlMiddleware, twilio.ValidateSignature(d.Config.Twilio.AuthToken, d.Config.PublicHost))
	}
	e.POST("/twiml", s.twiml, twimlMiddleware...)
	e.POST("/outbound", s.outbound)
	e.GET(twilio.StreamPath, s.streams)
	e.GET(twilio.StreamPath+"/*", s.streams)
	e.GET("/metrics", echo.WrapHandler(d.Metrics.Handler()))

	s.Router = e
	return s
}

func (s *Server) root(c echo.Context) error {
	return c.String(http.StatusOK, "Hello, your server is running.")
}

func (s *Server) ping(c echo.Context) error {
	return c.JSON(http.StatusOK, map[string]string{"message": "pong"})
}

func (s *Server) twiml(c echo.Context) error {
	doc, err := s.deps.TwiML.Render()
	if err != nil {
		s.log.Error().Err(err).Msg("twiml render failed")
		return c.String(http.StatusInternalServerError, "Internal Server Error (twiml)")
	}
	s.log.Debug().Str("twiml", doc).Msg("twiml generated")
	return c.Blob(http.StatusOK, "text/xml", []byte(doc))
}

func (s *Server) outbound(c echo.Context) error {
	var req outboundRequest
	if err := c.Bind(&req); err != nil {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "invalid JSON body"})
	}
	if req.To == "" {
		return c.JSON(http.StatusBadRequest, errorResponse{Error: "'to' missing"})
	}
	if s.deps.Caller == nil {
		return c.JSON(http.StatusServiceUnavailable, errorResponse{Error: "Twilio not configured"})
	}

	sid, err := s.deps.Caller.Call(req.To)
	if err != nil {
		s.log.Error().Err(err).Str("to", req.To).Msg("outbound call failed")
		status := http.StatusBadGateway
		if errors.Is(err, twilio.ErrNotConfigured) {
			status = http.StatusServiceUnavailable
		}
		return c.JSON(status, errorResponse{Error: err.Error()})
	}
	s.log.Info().Str("to", req.To).Str("call_sid", sid).Msg("outbound call placed")
	return c.JSON(http.StatusOK, outboundResponse{Success: true, CallSid: sid})
}

func (s *Server) streams(c echo.Context) error {
	if s.deps.Streams == nil {
		return c.String(http.StatusServiceUnavailable, "media streams unavailable")
	}
	conn, err := s.upgrader.Upgrade(c.Response(), c.Request(), nil)
	if err != nil {
		// Upgrade has already written the error response.
		s.log.Warn().Err(err).Msg("websocket upgrade failed")
		return nil
	}
	if err := s.deps.Streams.Serve(c.Request().Context(), conn); err != nil {
		s.log.Warn().Err(err).Msg("media stream ended with error")
	}
	return nil
}
