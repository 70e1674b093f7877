package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math"
	"net/url"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/lighthouse-ci/internal/core/build"
	"github.com/melih/lighthouse-ci/internal/core/domain"
	"github.com/melih/lighthouse-ci/internal/core/instructions"
	"github.com/melih/lighthouse-ci/internal/core/preparers"
	"github.com/melih/lighthouse-ci/internal/logging"
)

// SaturatedMessage is returned with 409 when no build can be admitted.
const SaturatedMessage = "Server cannot accept build request."

// Scheduler is the part of build.Manager the handler needs.
type Scheduler interface {
	ScheduleWithCallback(req domain.BuildRequest, cb build.Callback) (domain.BuildID, error)
	Kill(id domain.BuildID) error
	InFlight() []build.BuildStatus
}

// ContainerCounter reports how many build containers are alive.
type ContainerCounter interface {
	ActiveCount(ctx context.Context) (int, error)
}

type BuildHandler struct {
	scheduler    Scheduler
	instructions *instructions.Registry
	preparers    *preparers.Registry
	containers   ContainerCounter
	notifier     *Notifier
	logger       *slog.Logger
}

func NewBuildHandler(scheduler Scheduler, instr *instructions.Registry, preps *preparers.Registry, containers ContainerCounter, notifier *Notifier, logger *slog.Logger) *BuildHandler {
	return &BuildHandler{
		scheduler:    scheduler,
		instructions: instr,
		preparers:    preps,
		containers:   containers,
		notifier:     notifier,
		logger:       logging.Ensure(logger).With("component", "http"),
	}
}

// Register mounts the build routes on r.
func (h *BuildHandler) Register(r fiber.Router) {
	builds := r.Group("/builds")
	builds.Get("/", h.ListBuilds)
	builds.Post("/", h.SubmitBuild)
	builds.Delete("/:id", h.KillBuild)

	r.Get("/status", h.Status)
}

type SubmitBuildRequest struct {
	Instruction json.RawMessage `json:"instruction"`
	Source      json.RawMessage `json:"source"`
	Timeout     int64           `json:"timeout,omitempty"` // milliseconds, 0 for none
	CallbackURL string          `json:"callbackUrl,omitempty"`
}

func (h *BuildHandler) SubmitBuild(c *fiber.Ctx) error {
	var req SubmitBuildRequest
	if err := c.BodyParser(&req); err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid request body",
		})
	}

	buildReq, err := h.decode(req)
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	id, err := h.scheduler.ScheduleWithCallback(buildReq, h.notifier.Callback(buildReq.CallbackURL))
	switch {
	case errors.Is(err, domain.ErrSaturated):
		return c.Status(fiber.StatusConflict).JSON(fiber.Map{
			"error": SaturatedMessage,
		})
	case errors.Is(err, domain.ErrInvalidRequest):
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": err.Error(),
		})
	case errors.Is(err, build.ErrClosed):
		return c.Status(fiber.StatusServiceUnavailable).JSON(fiber.Map{
			"error": err.Error(),
		})
	case err != nil:
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{
		"id": id,
	})
}

func (h *BuildHandler) decode(req SubmitBuildRequest) (domain.BuildRequest, error) {
	instr, err := h.instructions.Decode(req.Instruction)
	if err != nil {
		return domain.BuildRequest{}, err
	}
	source, err := h.preparers.Decode(req.Source)
	if err != nil {
		return domain.BuildRequest{}, err
	}
	if req.Timeout < 0 {
		return domain.BuildRequest{}, fmt.Errorf("%w: negative timeout", domain.ErrInvalidRequest)
	}
	if req.Timeout > math.MaxInt64/int64(time.Millisecond) {
		return domain.BuildRequest{}, fmt.Errorf("%w: timeout too large", domain.ErrInvalidRequest)
	}
	if req.CallbackURL != "" {
		u, err := url.Parse(req.CallbackURL)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			return domain.BuildRequest{}, fmt.Errorf("%w: callbackUrl must be an absolute http(s) URL", domain.ErrInvalidRequest)
		}
	}

	return domain.BuildRequest{
		Instruction: instr,
		Source:      source,
		Timeout:     time.Duration(req.Timeout) * time.Millisecond,
		CallbackURL: req.CallbackURL,
	}, nil
}

func (h *BuildHandler) KillBuild(c *fiber.Ctx) error {
	id, err := domain.ParseBuildID(c.Params("id"))
	if err != nil {
		return c.Status(fiber.StatusBadRequest).JSON(fiber.Map{
			"error": "Invalid build ID",
		})
	}

	if err := h.scheduler.Kill(id); err != nil {
		if errors.Is(err, domain.ErrNotFound) {
			return c.Status(fiber.StatusNotFound).JSON(fiber.Map{
				"error": err.Error(),
			})
		}
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.SendStatus(fiber.StatusNoContent)
}

func (h *BuildHandler) ListBuilds(c *fiber.Ctx) error {
	return c.JSON(h.scheduler.InFlight())
}

func (h *BuildHandler) Status(c *fiber.Ctx) error {
	active, err := h.containers.ActiveCount(c.UserContext())
	if err != nil {
		return c.Status(fiber.StatusInternalServerError).JSON(fiber.Map{
			"error": err.Error(),
		})
	}

	return c.JSON(fiber.Map{
		"activeContainers": active,
		"inFlight":         len(h.scheduler.InFlight()),
	})
}
