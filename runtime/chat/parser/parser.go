// Package parser implements the incremental tag-aware scanner that classifies
// a flat, chunked token stream into output channels (answer, reasoning, tool)
// by detecting paired markers such as <think>...</think> inside a continuously
// appended buffer.
//
// The parser is the single canonical implementation of marker stripping: it is
// parameterized by an ordered marker table rather than hard-coding tag names,
// and it is careful never to misclassify a marker split across two network
// chunks. Feeding a stream in arbitrary chunk boundaries yields exactly the
// same classified output as feeding it in one call.
//
// A Parser is created per session and must not be shared across sessions.
package parser

import (
	"bytes"
	"encoding/json"
	"errors"
	"strings"
)

// Channel identifies the output category classified content is routed to.
type Channel string

// The three output channels.
const (
	ChannelAnswer    Channel = "answer"
	ChannelReasoning Channel = "reasoning"
	ChannelTool      Channel = "tool"
)

type (
	// Marker is a paired open/close delimiter signaling a channel switch
	// inside an otherwise plain text stream. The delimiters themselves are
	// consumed and never forwarded to the client.
	Marker struct {
		// Open starts the region (e.g., "<think>").
		Open string
		// Close ends the region (e.g., "</think>").
		Close string
		// Channel receives the region's content.
		Channel Channel
	}

	// Segment is a classified run of text ready for delivery.
	Segment struct {
		Channel Channel
		Text    string
	}

	// Config customizes a Parser. The zero value selects the default marker
	// table and watermark.
	Config struct {
		// Markers is the ordered marker table. When two markers open at the
		// same buffer index the one listed first wins. Defaults to
		// DefaultMarkers.
		Markers []Marker
		// Watermark bounds buffered-but-unemitted content while inside a
		// marker region. When exceeded the buffer is force-flushed so a
		// malformed, never-closing tag cannot grow memory without bound.
		// Defaults to 2000.
		Watermark int
	}

	// Parser is the incremental scanner. Not safe for concurrent use; each
	// session owns exactly one Parser for its lifetime.
	Parser struct {
		markers   []Marker
		watermark int
		// maxOpen is the longest open marker length; plain text emission holds
		// back at most maxOpen-1 trailing bytes so a marker arriving across two
		// chunks is never emitted as answer text.
		maxOpen int

		buf        []byte
		active     *Marker
		overflowed bool
	}
)

// DefaultMarkers is the marker table recognized by default: reasoning blocks
// plus two tool block dialects that some backends emit.
var DefaultMarkers = []Marker{
	{Open: "<think>", Close: "</think>", Channel: ChannelReasoning},
	{Open: "<TOOL>", Close: "</TOOL>", Channel: ChannelTool},
	{Open: "<RESULT>", Close: "</RESULT>", Channel: ChannelTool},
}

// ErrUnterminated reports that the stream ended inside a marker region. The
// region's content is still emitted (never silently dropped); callers may
// surface a warning such as "Unclosed tag at stream end, content may be
// incomplete".
var ErrUnterminated = errors.New("parser: unterminated marker region at stream end")

// DefaultWatermark bounds in-region buffering before a force flush.
const DefaultWatermark = 2000

// New builds a Parser from cfg, applying defaults for zero fields.
func New(cfg Config) *Parser {
	markers := cfg.Markers
	if len(markers) == 0 {
		markers = DefaultMarkers
	}
	watermark := cfg.Watermark
	if watermark <= 0 {
		watermark = DefaultWatermark
	}
	maxOpen := 0
	for _, m := range markers {
		if len(m.Open) > maxOpen {
			maxOpen = len(m.Open)
		}
	}
	return &Parser{markers: markers, watermark: watermark, maxOpen: maxOpen}
}

// Feed appends chunk to the internal buffer and returns zero or more
// classified segments that are safe to emit. chunk may be empty and may be of
// any size; marker detection is identical regardless of how the stream is
// chunked.
func (p *Parser) Feed(chunk string) []Segment {
	p.buf = append(p.buf, chunk...)

	var out []Segment
	for {
		if p.active == nil {
			if !p.scanInitial(&out) {
				break
			}
			continue
		}
		if !p.scanRegion(&out) {
			break
		}
	}
	return out
}

// Flush emits any remaining buffered text, classified by whatever mode was
// active at end of stream. When the stream ended inside an unterminated
// region the content is still delivered under that region's channel and
// ErrUnterminated is returned so callers can warn. The parser is reset to
// its initial state afterwards.
func (p *Parser) Flush() ([]Segment, error) {
	var out []Segment
	var err error
	switch {
	case p.active == nil:
		if len(p.buf) > 0 {
			out = append(out, Segment{Channel: ChannelAnswer, Text: string(p.buf)})
		}
	case p.active.Channel == ChannelTool && !p.overflowed:
		// The region never closed so the payload cannot be complete JSON;
		// formatTool degrades it to a fenced block.
		if len(p.buf) > 0 {
			out = append(out, Segment{Channel: ChannelTool, Text: formatTool(p.buf)})
		}
		err = ErrUnterminated
	default:
		if len(p.buf) > 0 {
			out = append(out, Segment{Channel: p.active.Channel, Text: string(p.buf)})
		}
		err = ErrUnterminated
	}
	p.buf = nil
	p.active = nil
	p.overflowed = false
	return out, err
}

// scanInitial looks for the earliest open marker. It returns true when a full
// marker was consumed and scanning should continue, false when more input is
// needed.
func (p *Parser) scanInitial(out *[]Segment) bool {
	idx := -1
	var found *Marker
	for i := range p.markers {
		m := &p.markers[i]
		j := bytes.Index(p.buf, []byte(m.Open))
		if j < 0 {
			continue
		}
		// Earliest occurrence wins; table order breaks ties.
		if idx < 0 || j < idx {
			idx, found = j, m
		}
	}
	if found != nil {
		if idx > 0 {
			*out = append(*out, Segment{Channel: ChannelAnswer, Text: string(p.buf[:idx])})
		}
		p.buf = p.buf[idx+len(found.Open):]
		p.active = found
		p.overflowed = false
		return true
	}

	// No full marker yet. Emit the unambiguous plain run immediately and hold
	// only a suffix that could still turn into a marker once more input
	// arrives.
	hold := p.holdLen()
	if emit := len(p.buf) - hold; emit > 0 {
		*out = append(*out, Segment{Channel: ChannelAnswer, Text: string(p.buf[:emit])})
		p.buf = p.buf[emit:]
	}
	return false
}

// scanRegion handles the inside of an open marker region. Reasoning content
// streams out eagerly minus a safety margin; tool content is held for
// whole-payload JSON handling until the region closes or the watermark trips.
func (p *Parser) scanRegion(out *[]Segment) bool {
	m := p.active
	if i := bytes.Index(p.buf, []byte(m.Close)); i >= 0 {
		content := p.buf[:i]
		if m.Channel == ChannelTool && !p.overflowed {
			if len(content) > 0 {
				*out = append(*out, Segment{Channel: ChannelTool, Text: formatTool(content)})
			}
		} else if len(content) > 0 {
			*out = append(*out, Segment{Channel: m.Channel, Text: string(content)})
		}
		p.buf = p.buf[i+len(m.Close):]
		p.active = nil
		p.overflowed = false
		return true
	}

	// Hold back len(close)-1 bytes so a close marker split across chunks is
	// never emitted as region content.
	margin := len(m.Close) - 1
	if m.Channel == ChannelTool {
		// Tool payloads stay buffered for JSON handling until the watermark.
		if len(p.buf) <= p.watermark {
			return false
		}
		emit := len(p.buf) - margin
		*out = append(*out, Segment{Channel: ChannelTool, Text: string(p.buf[:emit])})
		p.buf = p.buf[emit:]
		p.overflowed = true
		return false
	}
	if emit := len(p.buf) - margin; emit > 0 {
		*out = append(*out, Segment{Channel: m.Channel, Text: string(p.buf[:emit])})
		p.buf = p.buf[emit:]
	}
	return false
}

// holdLen returns the length of the longest buffer suffix that is a proper
// prefix of some open marker. That suffix must not be emitted yet: the rest
// of the marker may arrive in the next chunk.
func (p *Parser) holdLen() int {
	max := p.maxOpen - 1
	if max > len(p.buf) {
		max = len(p.buf)
	}
	for k := max; k > 0; k-- {
		tail := p.buf[len(p.buf)-k:]
		for _, m := range p.markers {
			if len(m.Open) > k && string(tail) == m.Open[:k] {
				return k
			}
		}
	}
	return 0
}

// formatTool renders a closed tool region. Valid JSON is pretty-printed;
// anything else passes through verbatim inside a fenced block. This never
// fails: malformed tool output degrades to visible text, not an error.
func formatTool(raw []byte) string {
	trimmed := bytes.TrimSpace(raw)
	if len(trimmed) > 0 {
		var v any
		if err := json.Unmarshal(trimmed, &v); err == nil {
			if pretty, err := json.MarshalIndent(v, "", "  "); err == nil {
				return string(pretty)
			}
		}
	}
	var b strings.Builder
	b.WriteString("```\n")
	b.Write(raw)
	b.WriteString("\n```")
	return b.String()
}
