package builder

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordingObserver struct {
	messages  []string
	errors    []string
	completed int
}

func (o *recordingObserver) OnMessage(message string) { o.messages = append(o.messages, message) }
func (o *recordingObserver) OnError(message string)   { o.errors = append(o.errors, message) }
func (o *recordingObserver) OnCompleted()             { o.completed++ }

func TestDecodeProgressForwardsStream(t *testing.T) {
	stream := `{"stream":"Step 1/2 : FROM alpine\n"}
{"status":"Pulling from library/alpine"}
{"stream":"Successfully built 0123abcd\n"}
`
	obs := &recordingObserver{}
	err := decodeProgress(strings.NewReader(stream), obs)

	require.NoError(t, err)
	assert.Equal(t, []string{
		"Step 1/2 : FROM alpine\n",
		"Pulling from library/alpine\n",
		"Successfully built 0123abcd\n",
	}, obs.messages)
	assert.Empty(t, obs.errors)
}

func TestDecodeProgressReportsErrors(t *testing.T) {
	stream := `{"stream":"Step 1/2 : RUN false\n"}
{"errorDetail":{"code":1,"message":"returned a non-zero code: 1"},"error":"returned a non-zero code: 1"}
`
	obs := &recordingObserver{}
	err := decodeProgress(strings.NewReader(stream), obs)

	require.Error(t, err)
	assert.Contains(t, err.Error(), "non-zero code")
	assert.Equal(t, []string{"returned a non-zero code: 1"}, obs.errors)
}

func TestDecodeProgressRejectsGarbage(t *testing.T) {
	err := decodeProgress(strings.NewReader("not json"), &recordingObserver{})
	require.Error(t, err)
}

func TestBuildImageRequiresInput(t *testing.T) {
	a := NewBuilderAdapter(nil, nil)
	require.NotNil(t, a.logger)
	obs := &recordingObserver{}

	err := a.BuildImage(t.Context(), "", "FROM alpine", obs)
	require.Error(t, err)
	assert.Equal(t, 1, obs.completed)
}
