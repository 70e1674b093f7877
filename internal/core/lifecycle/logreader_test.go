package lifecycle

import (
	"errors"
	"io"
	"strings"
	"testing"
	"testing/iotest"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func collect(t *testing.T, r io.Reader) []string {
	t.Helper()
	var lines []string
	require.NoError(t, ReadLines(r, func(l string) { lines = append(lines, l) }))
	return lines
}

func TestReadLines(t *testing.T) {
	tests := []struct {
		name  string
		input string
		want  []string
	}{
		{name: "empty", input: "", want: nil},
		{name: "terminated", input: "a\nb\n", want: []string{"a", "b"}},
		{name: "crlf", input: "a\r\nb\r\n", want: []string{"a", "b"}},
		{name: "blank lines kept", input: "a\n\nb\n", want: []string{"a", "", "b"}},
		{name: "single newline", input: "\n", want: []string{""}},
		{name: "trailing partial", input: "a\npartial", want: []string{"a", "partial"}},
		{name: "only carriage returns", input: "\r\r", want: nil},
		{name: "multibyte", input: "héllo wörld\n✓", want: []string{"héllo wörld", "✓"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, collect(t, strings.NewReader(tt.input)))
		})
	}
}

func TestReadLinesByteAtATime(t *testing.T) {
	r := iotest.OneByteReader(strings.NewReader("first\nsecond ✓\n"))
	assert.Equal(t, []string{"first", "second ✓"}, collect(t, r))
}

func TestReadLinesReturnsReadError(t *testing.T) {
	boom := errors.New("boom")
	r := io.MultiReader(strings.NewReader("done\nhalf"), iotest.ErrReader(boom))

	var lines []string
	err := ReadLines(r, func(l string) { lines = append(lines, l) })

	require.ErrorIs(t, err, boom)
	assert.Equal(t, []string{"done", "half"}, lines)
}
