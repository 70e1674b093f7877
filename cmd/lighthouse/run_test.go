package main

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/melih/lighthouse-ci/internal/adapters/archivesource"
	"github.com/melih/lighthouse-ci/internal/adapters/gitsource"
	"github.com/melih/lighthouse-ci/internal/core/instructions"
	"github.com/melih/lighthouse-ci/internal/core/preparers"
)

func sources() *preparers.Registry {
	r := preparers.Default()
	r.Register(gitsource.Kind, gitsource.Decoder(nil))
	r.Register(archivesource.Kind, archivesource.Decoder(nil))
	return r
}

func TestRunOptionsShellWithoutSource(t *testing.T) {
	req, err := runOptions{image: "alpine", script: "echo hi", timeout: time.Minute}.request(sources())
	require.NoError(t, err)

	assert.Equal(t, &instructions.Shell{ImageName: "alpine", Script: "echo hi"}, req.Instruction)
	assert.Equal(t, preparers.NoneKind, req.Source.Kind())
	assert.Equal(t, time.Minute, req.Timeout)
}

func TestRunOptionsMavenFromRepository(t *testing.T) {
	req, err := runOptions{maven: []string{"verify"}, display: true, repo: "https://example.com/r.git", commit: "abc123"}.request(sources())
	require.NoError(t, err)

	assert.Equal(t, []string{"with-xvfb", "mvn", "-B", "verify"}, req.Instruction.Command())
	require.IsType(t, &gitsource.Preparer{}, req.Source)
	assert.Equal(t, "abc123", req.Source.(*gitsource.Preparer).CommitID)
}

func TestRunOptionsDevhubFromArchive(t *testing.T) {
	req, err := runOptions{devhub: true, archive: "https://example.com/src.tar.gz"}.request(sources())
	require.NoError(t, err)

	assert.Equal(t, instructions.DevhubKind, req.Instruction.Kind())
	assert.Equal(t, archivesource.Kind, req.Source.Kind())
}

func TestRunOptionsRejectsIncompleteFlags(t *testing.T) {
	_, err := runOptions{}.request(sources())
	require.Error(t, err)

	_, err = runOptions{script: "true"}.request(sources())
	require.Error(t, err)

	_, err = runOptions{image: "alpine", script: "true", archive: "https://example.com/a.tar", digest: "bogus"}.request(sources())
	require.Error(t, err)
}
