package httpapi

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/rs/zerolog/log"

	"github.com/i474232898/weather-etl/internal/scheduler"
	"github.com/i474232898/weather-etl/internal/weather"
)

const serviceName = "weather-etl"

var validate = validator.New()

// RunTrigger starts a pipeline run in the background.
type RunTrigger interface {
	Trigger() (string, error)
}

type pinger interface {
	Ping(ctx context.Context) error
}

// Deps are the collaborators the handlers need.
type Deps struct {
	Store    weather.Store
	Detector *weather.ChangeDetector
	Runs     RunTrigger
	Monitor  *scheduler.Monitor
}

// ErrorHandler renders every error as {"error": true, "message": ...}.
func ErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	var e *fiber.Error
	if errors.As(err, &e) {
		code = e.Code
	}
	return c.Status(code).JSON(fiber.Map{
		"error":   true,
		"message": err.Error(),
	})
}

// RegisterRoutes wires the HTTP handlers into the Fiber app.
func RegisterRoutes(app *fiber.App, deps Deps) {
	app.Get("/health", func(c *fiber.Ctx) error {
		status := fiber.StatusOK
		body := fiber.Map{
			"status":  "ok",
			"service": serviceName,
		}
		if p, ok := deps.Store.(pinger); ok {
			if err := p.Ping(c.UserContext()); err != nil {
				log.Error().Err(err).Msg("health: store ping failed")
				status = fiber.StatusServiceUnavailable
				body["status"] = "degraded"
				body["message"] = "store unreachable"
				return c.Status(status).JSON(body)
			}
		}
		if n, err := deps.Store.Count(c.UserContext()); err == nil {
			body["records"] = n
		}
		if deps.Monitor != nil {
			if last, ok := deps.Monitor.LastRun(); ok {
				body["lastRun"] = last
			}
			if !deps.Monitor.IsHealthy() {
				status = fiber.StatusServiceUnavailable
				body["status"] = "degraded"
				body["message"] = deps.Monitor.StatusSummary()
			}
		}
		return c.Status(status).JSON(body)
	})

	v1 := app.Group("/api/v1")

	v1.Get("/weather/latest", func(c *fiber.Ctx) error {
		rec, err := deps.Store.Latest(c.UserContext())
		if err != nil {
			if errors.Is(err, weather.ErrNoRecords) {
				return fiber.NewError(fiber.StatusNotFound, "no weather data recorded yet")
			}
			log.Error().Err(err).Msg("failed to read latest record")
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather data")
		}
		return c.JSON(rec)
	})

	v1.Get("/weather/history", func(c *fiber.Ctx) error {
		var req historyQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		records, err := deps.Store.Range(c.UserContext(), req.From, req.To, req.Limit)
		if err != nil {
			log.Error().Err(err).Msg("failed to read weather history")
			return fiber.NewError(fiber.StatusInternalServerError, "failed to fetch weather history")
		}
		if records == nil {
			records = []weather.Record{}
		}

		return c.JSON(fiber.Map{
			"from":    req.From,
			"to":      req.To,
			"limit":   req.Limit,
			"records": records,
		})
	})

	v1.Get("/weather/change", func(c *fiber.Ctx) error {
		var req changeQuery
		if err := req.bind(c); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}
		if err := validate.Struct(req); err != nil {
			return fiber.NewError(fiber.StatusBadRequest, err.Error())
		}

		detector := deps.Detector.WithPolicy(weather.FailFast).WithThreshold(req.Threshold)
		dec, err := detector.Check(c.UserContext())
		if err != nil {
			var fe *weather.FetchError
			if errors.As(err, &fe) {
				return fiber.NewError(fiber.StatusBadGateway, err.Error())
			}
			return fiber.NewError(fiber.StatusInternalServerError, err.Error())
		}
		return c.JSON(dec)
	})

	v1.Post("/pipeline/runs", func(c *fiber.Ctx) error {
		id, err := deps.Runs.Trigger()
		if err != nil {
			if errors.Is(err, scheduler.ErrRunInProgress) {
				return fiber.NewError(fiber.StatusConflict, err.Error())
			}
			return fiber.NewError(fiber.StatusServiceUnavailable, err.Error())
		}
		return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
			"runId":  id,
			"status": scheduler.StatusRunning,
		})
	})
}

const defaultHistoryLimit = 100

// historyQuery holds query parameters for the history endpoint.
type historyQuery struct {
	From  time.Time `validate:"required"`
	To    time.Time `validate:"required,gtefield=From"`
	Limit int       `validate:"min=1,max=1000"`
}

func (h *historyQuery) bind(c *fiber.Ctx) error {
	fromStr := c.Query("from")
	toStr := c.Query("to")
	if fromStr == "" || toStr == "" {
		return errors.New("from and to query parameters are required")
	}

	from, err := parseTime(fromStr)
	if err != nil {
		return err
	}
	to, err := parseTime(toStr)
	if err != nil {
		return err
	}

	h.From = from
	h.To = to
	h.Limit = defaultHistoryLimit
	if s := c.Query("limit"); s != "" {
		n, err := strconv.Atoi(s)
		if err != nil {
			return errors.New("limit must be an integer")
		}
		h.Limit = n
	}
	return nil
}

// changeQuery holds the optional threshold override; zero keeps the configured one.
type changeQuery struct {
	Threshold float64 `validate:"gte=0"`
}

func (q *changeQuery) bind(c *fiber.Ctx) error {
	s := c.Query("threshold")
	if s == "" {
		return nil
	}
	v, err := strconv.ParseFloat(s, 64)
	if err != nil {
		return errors.New("threshold must be a number")
	}
	q.Threshold = v
	return nil
}

// parseTime tries to parse either RFC3339 or Unix seconds.
func parseTime(s string) (time.Time, error) {
	if ts, err := time.Parse(time.RFC3339, s); err == nil {
		return ts.UTC(), nil
	}
	if unix, err := strconv.ParseInt(s, 10, 64); err == nil {
		return time.Unix(unix, 0).UTC(), nil
	}
	return time.Time{}, errors.New("invalid time format; use RFC3339 or unix seconds")
}
