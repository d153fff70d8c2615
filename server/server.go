// Package server exposes a vectorguard Engine over HTTP.
package server

import (
	"errors"
	"net/http"
	"net/url"
	"strconv"
	"time"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/adaptor"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"

	"github.com/oarkflow/vectorguard"
)

const maxBatch = 1000

// Options control the HTTP surface.
type Options struct {
	// Metrics, when set, is served on /metrics.
	Metrics http.Handler
	Logger  vectorguard.Logger
}

type Server struct {
	app    *fiber.App
	engine *vectorguard.Engine
	logger vectorguard.Logger
}

type arbitrateRequest struct {
	Rule       vectorguard.Verdict           `json:"rule"`
	Classifier vectorguard.ClassifierVerdict `json:"classifier"`
}

type batchResponse struct {
	Accepted int `json:"accepted"`
	Dropped  int `json:"dropped"`
}

type detectionsResponse struct {
	Summary vectorguard.LedgerSummary `json:"summary"`
	Entries []vectorguard.LedgerEntry `json:"entries"`
}

func New(engine *vectorguard.Engine, opts Options) *Server {
	logger := opts.Logger
	if logger == nil {
		logger = vectorguard.NopLogger{}
	}
	app := fiber.New(fiber.Config{
		DisableStartupMessage: true,
		ErrorHandler: func(c *fiber.Ctx, err error) error {
			code := fiber.StatusInternalServerError
			var e *fiber.Error
			if errors.As(err, &e) {
				code = e.Code
			}
			return c.Status(code).JSON(fiber.Map{"error": err.Error()})
		},
	})
	app.Use(recover.New())
	app.Use(requestid.New())
	app.Use(cors.New())

	s := &Server{app: app, engine: engine, logger: logger}

	app.Get("/healthz", func(c *fiber.Ctx) error {
		return c.JSON(fiber.Map{"status": "ok", "time": time.Now().UTC()})
	})
	if opts.Metrics != nil {
		app.Get("/metrics", adaptor.HTTPHandler(opts.Metrics))
	}

	v1 := app.Group("/v1")
	v1.Post("/events", s.evaluate)
	v1.Post("/events/batch", s.recordBatch)
	v1.Get("/sources/:source/verdict", s.classify)
	v1.Get("/sources/:source/history", s.history)
	v1.Delete("/sources/:source", s.forget)
	v1.Post("/arbitrate", s.arbitrate)
	v1.Get("/detections", s.detections)
	return s
}

// App returns the underlying fiber application, e.g. for app.Test.
func (s *Server) App() *fiber.App {
	return s.app
}

func (s *Server) Listen(addr string) error {
	s.logger.Info("http listening", map[string]any{"addr": addr})
	return s.app.Listen(addr)
}

func (s *Server) Shutdown() error {
	return s.app.Shutdown()
}

func (s *Server) evaluate(c *fiber.Ctx) error {
	var ev vectorguard.Event
	if err := c.BodyParser(&ev); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid event: "+err.Error())
	}
	v := s.engine.Evaluate(c.UserContext(), ev)
	if v.Decision == vectorguard.DecisionSkipped {
		return c.Status(fiber.StatusAccepted).JSON(v)
	}
	return c.JSON(v)
}

func (s *Server) recordBatch(c *fiber.Ctx) error {
	var events []vectorguard.Event
	if err := c.BodyParser(&events); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid batch: "+err.Error())
	}
	if len(events) > maxBatch {
		return fiber.NewError(fiber.StatusRequestEntityTooLarge, "batch exceeds "+strconv.Itoa(maxBatch)+" events")
	}
	var resp batchResponse
	for _, ev := range events {
		if s.engine.RecordEvent(ev) {
			resp.Accepted++
		} else {
			resp.Dropped++
		}
	}
	return c.JSON(resp)
}

func (s *Server) classify(c *fiber.Ctx) error {
	source, err := sourceParam(c)
	if err != nil {
		return err
	}
	return c.JSON(s.engine.Classify(source))
}

func (s *Server) history(c *fiber.Ctx) error {
	source, err := sourceParam(c)
	if err != nil {
		return err
	}
	limit := c.QueryInt("limit", 50)
	verdicts, err := s.engine.History(c.UserContext(), source, limit)
	if err != nil {
		s.logger.Error("history lookup failed", map[string]any{"source": source, "error": err})
		return fiber.NewError(fiber.StatusInternalServerError, "history unavailable")
	}
	if verdicts == nil {
		verdicts = []vectorguard.Verdict{}
	}
	return c.JSON(verdicts)
}

func (s *Server) forget(c *fiber.Ctx) error {
	source, err := sourceParam(c)
	if err != nil {
		return err
	}
	s.engine.Forget(source)
	return c.SendStatus(fiber.StatusNoContent)
}

func (s *Server) arbitrate(c *fiber.Ctx) error {
	var req arbitrateRequest
	if err := c.BodyParser(&req); err != nil {
		return fiber.NewError(fiber.StatusBadRequest, "invalid arbitration request: "+err.Error())
	}
	return c.JSON(s.engine.Arbitrate(req.Rule, req.Classifier))
}

func (s *Server) detections(c *fiber.Ctx) error {
	ledger := s.engine.Ledger()
	entries := ledger.Snapshot()
	if entries == nil {
		entries = []vectorguard.LedgerEntry{}
	}
	return c.JSON(detectionsResponse{Summary: ledger.Summary(), Entries: entries})
}

func sourceParam(c *fiber.Ctx) (string, error) {
	source, err := url.PathUnescape(c.Params("source"))
	if err != nil || source == "" {
		return "", fiber.NewError(fiber.StatusBadRequest, "invalid source")
	}
	return source, nil
}
