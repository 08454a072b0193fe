package anthropic

import (
	"io"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/anthropics/anthropic-sdk-go/packages/ssestream"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
)

// streamer adapts the SDK message event stream to model.Streamer. It is
// pull-based: Recv advances the SDK stream until an event yields a chunk.
type streamer struct {
	stream *ssestream.Stream[sdk.MessageStreamEventUnion]
	done   bool
}

func (s *streamer) Recv() (model.Chunk, error) {
	if s.done {
		return model.Chunk{}, io.EOF
	}
	for s.stream.Next() {
		event := s.stream.Current()
		switch ev := event.AsAny().(type) {
		case sdk.ContentBlockDeltaEvent:
			switch delta := ev.Delta.AsAny().(type) {
			case sdk.TextDelta:
				if delta.Text == "" {
					continue
				}
				return model.Chunk{Type: model.ChunkTypeText, Text: delta.Text}, nil
			case sdk.ThinkingDelta:
				if delta.Thinking == "" {
					continue
				}
				return model.Chunk{Type: model.ChunkTypeReasoning, Reasoning: delta.Thinking}, nil
			}
		case sdk.MessageDeltaEvent:
			if ev.Delta.StopReason != "" {
				return model.Chunk{Type: model.ChunkTypeStop, StopReason: string(ev.Delta.StopReason)}, nil
			}
		case sdk.MessageStopEvent:
			s.done = true
			return model.Chunk{}, io.EOF
		}
	}
	s.done = true
	if err := s.stream.Err(); err != nil {
		return model.Chunk{}, classify(err)
	}
	return model.Chunk{}, io.EOF
}

func (s *streamer) Close() error {
	s.done = true
	return s.stream.Close()
}
