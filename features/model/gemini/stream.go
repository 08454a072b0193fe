package gemini

import (
	"io"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
)

// streamer adapts the openai-go chunk stream to model.Streamer.
type streamer struct {
	stream *ssestream.Stream[openai.ChatCompletionChunk]
	done   bool
}

func (s *streamer) Recv() (model.Chunk, error) {
	if s.done {
		return model.Chunk{}, io.EOF
	}
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		if choice.Delta.Content != "" {
			return model.Chunk{Type: model.ChunkTypeText, Text: choice.Delta.Content}, nil
		}
		if choice.FinishReason != "" {
			return model.Chunk{Type: model.ChunkTypeStop, StopReason: choice.FinishReason}, nil
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
