package parser

import (
	"encoding/json"
	"strings"
	"testing"

	"github.com/leanovate/gopter"
	"github.com/leanovate/gopter/gen"
	"github.com/leanovate/gopter/prop"
	"github.com/stretchr/testify/require"
)

// collect feeds input to a fresh parser in the given chunk sizes and returns
// the concatenated per-channel output.
func collect(t *testing.T, input string, chunkSizes []int) map[Channel]string {
	t.Helper()
	p := New(Config{})
	return run(p, input, chunkSizes)
}

func run(p *Parser, input string, chunkSizes []int) map[Channel]string {
	out := map[Channel]string{}
	apply := func(segs []Segment) {
		for _, s := range segs {
			out[s.Channel] += s.Text
		}
	}
	rest := input
	for _, n := range chunkSizes {
		if n > len(rest) {
			n = len(rest)
		}
		apply(p.Feed(rest[:n]))
		rest = rest[n:]
	}
	apply(p.Feed(rest))
	segs, _ := p.Flush()
	apply(segs)
	return out
}

func TestPassThroughWithoutMarkers(t *testing.T) {
	const text = "The answer is 4. No tags anywhere < but a stray bracket."
	out := collect(t, text, []int{5, 1, 9})
	require.Equal(t, text, out[ChannelAnswer])
	require.Empty(t, out[ChannelReasoning])
	require.Empty(t, out[ChannelTool])
}

func TestReasoningAndAnswer(t *testing.T) {
	out := collect(t, "<think>adding the numbers</think>The answer is 4.", nil)
	require.Equal(t, "adding the numbers", out[ChannelReasoning])
	require.Equal(t, "The answer is 4.", out[ChannelAnswer])
}

func TestMarkerSplitAcrossFeeds(t *testing.T) {
	// Every possible split of the input must classify identically to a single
	// feed. This covers markers straddling chunk boundaries at any position.
	const input = "pre<think>reason</think>mid<TOOL>{\"a\":1}</TOOL>post"
	want := collect(t, input, nil)
	for i := 1; i < len(input); i++ {
		got := collect(t, input, []int{i})
		require.Equal(t, want, got, "split at %d", i)
	}
}

func TestToolJSONPrettyPrinted(t *testing.T) {
	out := collect(t, `<TOOL>{"action":"createJob","gpu":true}</TOOL>`, nil)
	var v map[string]any
	require.NoError(t, json.Unmarshal([]byte(out[ChannelTool]), &v))
	require.Equal(t, "createJob", v["action"])
	require.Equal(t, true, v["gpu"])
	// Pretty printing adds indentation.
	require.Contains(t, out[ChannelTool], "\n  ")
}

func TestToolInvalidJSONFenced(t *testing.T) {
	const raw = `{"broken": `
	out := collect(t, "<TOOL>"+raw+"</TOOL>", []int{3, 4})
	require.True(t, strings.HasPrefix(out[ChannelTool], "```\n"))
	require.Contains(t, out[ChannelTool], raw)
	require.True(t, strings.HasSuffix(out[ChannelTool], "\n```"))
}

func TestResultMarkerRoutesToToolChannel(t *testing.T) {
	out := collect(t, `<RESULT>{"ok":true}</RESULT>done`, nil)
	require.Contains(t, out[ChannelTool], `"ok"`)
	require.Equal(t, "done", out[ChannelAnswer])
}

func TestEarliestMarkerWins(t *testing.T) {
	out := collect(t, "<TOOL>{}</TOOL><think>later</think>", nil)
	require.Contains(t, out[ChannelTool], "{}")
	require.Equal(t, "later", out[ChannelReasoning])
}

func TestUnterminatedReasoningFlushed(t *testing.T) {
	p := New(Config{})
	var got string
	for _, s := range p.Feed("<think>half a thought") {
		got += s.Text
	}
	segs, err := p.Flush()
	require.ErrorIs(t, err, ErrUnterminated)
	for _, s := range segs {
		require.Equal(t, ChannelReasoning, s.Channel)
		got += s.Text
	}
	require.Equal(t, "half a thought", got)
}

func TestUnterminatedToolFlushedAsFence(t *testing.T) {
	p := New(Config{})
	p.Feed(`<TOOL>{"partial":`)
	segs, err := p.Flush()
	require.ErrorIs(t, err, ErrUnterminated)
	require.Len(t, segs, 1)
	require.Equal(t, ChannelTool, segs[0].Channel)
	require.Contains(t, segs[0].Text, `{"partial":`)
}

func TestWatermarkForcesEmission(t *testing.T) {
	p := New(Config{Watermark: 64})
	long := strings.Repeat("x", 500)
	var forced bool
	var got string
	for _, s := range p.Feed("<TOOL>" + long) {
		require.Equal(t, ChannelTool, s.Channel)
		forced = true
		got += s.Text
	}
	require.True(t, forced, "buffer must not grow past the watermark unemitted")
	segs, err := p.Flush()
	require.ErrorIs(t, err, ErrUnterminated)
	for _, s := range segs {
		got += s.Text
	}
	require.Equal(t, long, got)
}

func TestEmptyFeedIsNoop(t *testing.T) {
	p := New(Config{})
	require.Empty(t, p.Feed(""))
	segs, err := p.Flush()
	require.NoError(t, err)
	require.Empty(t, segs)
}

func TestCustomMarkerTable(t *testing.T) {
	p := New(Config{Markers: []Marker{{Open: "[[", Close: "]]", Channel: ChannelReasoning}}})
	out := run(p, "a[[b]]c", []int{1})
	require.Equal(t, "ac", out[ChannelAnswer])
	require.Equal(t, "b", out[ChannelReasoning])
}

// TestSplitInvarianceProperty verifies that for any way of splitting a marked
// stream into chunk boundaries, classification is identical to a single feed.
func TestSplitInvarianceProperty(t *testing.T) {
	parameters := gopter.DefaultTestParameters()
	parameters.MinSuccessfulTests = 200
	properties := gopter.NewProperties(parameters)

	const input = "<think>X reasoning text</think>Y answer text"
	want := collect(t, input, nil)

	properties.Property("chunking never changes classification", prop.ForAll(
		func(sizes []int) bool {
			cleaned := make([]int, 0, len(sizes))
			for _, n := range sizes {
				if n > 0 {
					cleaned = append(cleaned, n)
				}
			}
			got := collect(t, input, cleaned)
			return got[ChannelReasoning] == want[ChannelReasoning] &&
				got[ChannelAnswer] == want[ChannelAnswer]
		},
		gen.SliceOf(gen.IntRange(1, 9)),
	))

	properties.Property("marker-free text passes through unchanged", prop.ForAll(
		func(text string, size int) bool {
			got := collect(t, text, []int{size})
			return got[ChannelAnswer] == text
		},
		gen.AlphaString(),
		gen.IntRange(1, 5),
	))

	properties.TestingRun(t)
}
