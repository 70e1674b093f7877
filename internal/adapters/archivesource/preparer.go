// Package archivesource fills a staging directory from a tarball fetched
// over HTTP, optionally pinned by content digest.
package archivesource

import (
	"bytes"
	"context"
	_ "crypto/sha256"
	_ "crypto/sha512"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/docker/docker/pkg/archive"
	"github.com/gofiber/fiber/v2"
	"github.com/opencontainers/go-digest"

	"github.com/melih/lighthouse-ci/internal/core/domain"
	"github.com/melih/lighthouse-ci/internal/logging"
)

const (
	Kind = "archive"

	// DefaultDownloadTimeout applies when the build has no deadline.
	DefaultDownloadTimeout = 5 * time.Minute
	// MaxArchiveSize caps the size of a downloaded archive.
	MaxArchiveSize = 512 << 20

	maxRedirects = 5
)

// Preparer downloads URL and unpacks it into the staging directory.
// Compressed tarballs are detected automatically.
type Preparer struct {
	URL    string        `json:"url"`
	Digest digest.Digest `json:"digest,omitempty"`

	logger  *slog.Logger
	maxSize int
}

func (p *Preparer) Kind() string { return Kind }

// Decoder returns a decode function for the preparer registry.
func Decoder(logger *slog.Logger) func(json.RawMessage) (domain.DirectoryPreparer, error) {
	logger = logging.Ensure(logger).With("component", "archive")
	return func(raw json.RawMessage) (domain.DirectoryPreparer, error) {
		p := &Preparer{logger: logger}
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, err
		}
		if p.URL == "" {
			return nil, errors.New("url is required")
		}
		if p.Digest != "" {
			if err := p.Digest.Validate(); err != nil {
				return nil, fmt.Errorf("digest: %w", err)
			}
		}
		return p, nil
	}
}

func (p *Preparer) Prepare(ctx context.Context, dir string, log domain.LogSink) error {
	logger := logging.Ensure(p.logger)

	logger.Info("downloading source archive", "url", p.URL)
	maxSize := p.maxSize
	if maxSize <= 0 {
		maxSize = MaxArchiveSize
	}
	body, err := fetch(ctx, p.URL, maxSize)
	if err != nil {
		if ctx.Err() != nil {
			return err
		}
		log.WriteLine("[FATAL] Failed to download source archive: " + p.URL)
		return fmt.Errorf("download %s: %w", p.URL, err)
	}

	if p.Digest != "" {
		verifier := p.Digest.Verifier()
		_, _ = verifier.Write(body)
		if !verifier.Verified() {
			actual := p.Digest.Algorithm().FromBytes(body)
			log.WriteLine(fmt.Sprintf("[FATAL] Source archive digest mismatch: expected %s, got %s", p.Digest, actual))
			return fmt.Errorf("digest mismatch for %s: got %s", p.URL, actual)
		}
	}

	if err := archive.Untar(bytes.NewReader(body), dir, &archive.TarOptions{NoLchown: true}); err != nil {
		log.WriteLine("[FATAL] Failed to extract source archive: " + p.URL)
		return fmt.Errorf("extract %s: %w", p.URL, err)
	}
	logger.Info("source archive extracted", "bytes", len(body), "dir", dir)
	return nil
}

type download struct {
	code int
	body []byte
	errs []error
}

// fetch downloads url. The agent cannot be interrupted, so a cancelled ctx
// abandons the request and lets it run out its timeout in the background.
func fetch(ctx context.Context, url string, maxSize int) ([]byte, error) {
	timeout := DefaultDownloadTimeout
	if deadline, ok := ctx.Deadline(); ok {
		timeout = time.Until(deadline)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	agent := fiber.Get(url).Timeout(timeout).MaxRedirectsCount(maxRedirects)
	if err := agent.Parse(); err != nil {
		return nil, err
	}
	agent.MaxResponseBodySize = maxSize

	result := make(chan download, 1)
	go func() {
		code, body, errs := agent.Bytes()
		result <- download{code: code, body: body, errs: errs}
	}()

	select {
	case <-ctx.Done():
		return nil, context.Cause(ctx)
	case d := <-result:
		if len(d.errs) > 0 {
			return nil, errors.Join(d.errs...)
		}
		if d.code != fiber.StatusOK {
			return nil, fmt.Errorf("unexpected status %d", d.code)
		}
		return d.body, nil
	}
}
