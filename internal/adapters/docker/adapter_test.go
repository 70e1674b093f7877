package docker

import (
	"bytes"
	"io"
	"testing"

	"github.com/docker/docker/pkg/stdcopy"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDemuxMergesStreamsInOrder(t *testing.T) {
	var buf bytes.Buffer
	stdout := stdcopy.NewStdWriter(&buf, stdcopy.Stdout)
	stderr := stdcopy.NewStdWriter(&buf, stdcopy.Stderr)

	_, err := stdout.Write([]byte("compiling\n"))
	require.NoError(t, err)
	_, err = stderr.Write([]byte("warning: deprecated\n"))
	require.NoError(t, err)
	_, err = stdout.Write([]byte("done"))
	require.NoError(t, err)

	out, err := io.ReadAll(demux(&buf))
	require.NoError(t, err)
	assert.Equal(t, "compiling\nwarning: deprecated\ndone", string(out))
}

func TestDemuxClosedReaderStopsCopy(t *testing.T) {
	pr, pw := io.Pipe()
	defer pw.Close()

	r := demux(pr)
	require.NoError(t, r.Close())

	_, err := r.Read(make([]byte, 1))
	assert.ErrorIs(t, err, io.ErrClosedPipe)
}
