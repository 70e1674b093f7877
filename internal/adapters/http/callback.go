package http

import (
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/gofiber/fiber/v2"

	"github.com/melih/lighthouse-ci/internal/core/build"
	"github.com/melih/lighthouse-ci/internal/core/domain"
	"github.com/melih/lighthouse-ci/internal/logging"
)

// DefaultCallbackTimeout bounds a single result delivery.
const DefaultCallbackTimeout = 30 * time.Second

// ResultPayload is the body POSTed to a build's callback URL.
type ResultPayload struct {
	ID domain.BuildID `json:"id"`
	domain.BuildResult
}

// Notifier delivers build results to callback URLs.
type Notifier struct {
	timeout time.Duration
	logger  *slog.Logger
}

func NewNotifier(timeout time.Duration, logger *slog.Logger) *Notifier {
	if timeout <= 0 {
		timeout = DefaultCallbackTimeout
	}
	return &Notifier{timeout: timeout, logger: logging.Ensure(logger).With("component", "callback")}
}

// Callback returns the build.Callback for a request. Without a URL the
// result is only logged.
func (n *Notifier) Callback(callbackURL string) build.Callback {
	return build.CallbackFunc(func(id domain.BuildID, result domain.BuildResult) {
		logger := n.logger.With("build", id, "status", result.Status)
		if callbackURL == "" {
			logger.Info("build result not delivered, no callback URL")
			return
		}
		if err := n.Deliver(callbackURL, id, result); err != nil {
			logger.Error("failed to deliver build result", "url", callbackURL, "error", err)
			return
		}
		logger.Info("build result delivered", "url", callbackURL)
	})
}

// Deliver POSTs the result as JSON and expects a 2xx answer.
func (n *Notifier) Deliver(callbackURL string, id domain.BuildID, result domain.BuildResult) error {
	if result.LogLines == nil {
		result.LogLines = []string{}
	}

	agent := fiber.Post(callbackURL).
		JSON(ResultPayload{ID: id, BuildResult: result}).
		Timeout(n.timeout)
	if err := agent.Parse(); err != nil {
		return err
	}

	code, body, errs := agent.Bytes()
	if len(errs) > 0 {
		return errors.Join(errs...)
	}
	if code < 200 || code >= 300 {
		if len(body) > 256 {
			body = body[:256]
		}
		return fmt.Errorf("callback answered %d: %s", code, body)
	}
	return nil
}
