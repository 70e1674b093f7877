// Package gitsource fills a staging directory from a git repository.
package gitsource

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"

	"github.com/go-git/go-git/v5"
	"github.com/go-git/go-git/v5/plumbing"

	"github.com/melih/lighthouse-ci/internal/core/domain"
	"github.com/melih/lighthouse-ci/internal/logging"
)

const Kind = "git"

// Preparer clones RepositoryURL and checks out CommitID, or the tip of
// BranchName when no commit is given.
type Preparer struct {
	RepositoryURL string `json:"repositoryUrl"`
	BranchName    string `json:"branchName,omitempty"`
	CommitID      string `json:"commitId,omitempty"`

	logger *slog.Logger
}

func (p *Preparer) Kind() string { return Kind }

// Decoder returns a decode function for the preparer registry.
func Decoder(logger *slog.Logger) func(json.RawMessage) (domain.DirectoryPreparer, error) {
	logger = logging.Ensure(logger).With("component", "git")
	return func(raw json.RawMessage) (domain.DirectoryPreparer, error) {
		p := &Preparer{logger: logger}
		if err := json.Unmarshal(raw, p); err != nil {
			return nil, err
		}
		if p.RepositoryURL == "" {
			return nil, errors.New("repositoryUrl is required")
		}
		return p, nil
	}
}

func (p *Preparer) Prepare(ctx context.Context, dir string, log domain.LogSink) error {
	logger := logging.Ensure(p.logger)

	logger.Info("cloning repository", "url", p.RepositoryURL)
	repo, err := git.PlainCloneContext(ctx, dir, false, &git.CloneOptions{
		URL: p.RepositoryURL,
	})
	if err != nil {
		log.WriteLine("[FATAL] Failed to clone from repository: " + p.RepositoryURL)
		return fmt.Errorf("clone %s: %w", p.RepositoryURL, err)
	}

	rev := p.CommitID
	if rev == "" {
		if p.BranchName == "" {
			return nil
		}
		rev = plumbing.NewRemoteReferenceName(git.DefaultRemoteName, p.BranchName).String()
	}

	logger.Info("checking out revision", "revision", rev)
	if err := checkout(repo, rev); err != nil {
		log.WriteLine("[FATAL] Failed to checkout to specified commit: " + rev)
		return fmt.Errorf("checkout %s: %w", rev, err)
	}
	return nil
}

func checkout(repo *git.Repository, rev string) error {
	hash, err := repo.ResolveRevision(plumbing.Revision(rev))
	if err != nil {
		return err
	}
	wt, err := repo.Worktree()
	if err != nil {
		return err
	}
	return wt.Checkout(&git.CheckoutOptions{Hash: *hash, Force: true})
}
