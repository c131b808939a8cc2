package playground

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func frames(t *testing.T, body string) []string {
	t.Helper()
	var out []string
	require.NoError(t, readFrames(strings.NewReader(body), func(data string) bool {
		out = append(out, data)
		return true
	}))
	return out
}

func TestReadFrames(t *testing.T) {
	cases := []struct {
		name string
		body string
		want []string
	}{
		{"single", "data: {\"a\":1}\n\n", []string{`{"a":1}`}},
		{"no space after colon", "data:{}\n\n", []string{`{}`}},
		{"multi line data", "data: one\ndata: two\n\n", []string{"one\ntwo"}},
		{"ignores other fields", ": keep-alive\nevent: RunResponse\nid: 7\ndata: x\n\n", []string{"x"}},
		{"trailing frame without blank line", "data: a\n\ndata: b", []string{"a", "b"}},
		{"blank lines only", "\n\n\n", nil},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			require.Equal(t, tc.want, frames(t, tc.body))
		})
	}
}

func TestReadFramesStopsWhenAsked(t *testing.T) {
	var seen []string
	err := readFrames(strings.NewReader("data: 1\n\ndata: 2\n\ndata: 3\n\n"), func(data string) bool {
		seen = append(seen, data)
		return data != "2"
	})
	require.NoError(t, err)
	require.Equal(t, []string{"1", "2"}, seen)
}

func TestReadFramesRejectsOversizedLine(t *testing.T) {
	body := "data: " + strings.Repeat("x", maxFrameSize+1) + "\n\n"
	err := readFrames(strings.NewReader(body), func(string) bool { return true })
	require.Error(t, err)
}
