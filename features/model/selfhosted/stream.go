package selfhosted

import (
	"io"
	"sort"

	"github.com/openai/openai-go"
	"github.com/openai/openai-go/packages/ssestream"

	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
)

// streamer adapts the openai-go chunk stream to model.Streamer. Tool call
// fragments arrive spread across many chunks keyed by index; they are
// assembled here and emitted as whole tool calls when the stream finishes
// with a tool_calls stop.
type streamer struct {
	stream  *ssestream.Stream[openai.ChatCompletionChunk]
	calls   map[int64]*partialCall
	pending []model.Chunk
	done    bool
}

type partialCall struct {
	name string
	args []byte
}

func (s *streamer) Recv() (model.Chunk, error) {
	if len(s.pending) > 0 {
		chunk := s.pending[0]
		s.pending = s.pending[1:]
		return chunk, nil
	}
	if s.done {
		return model.Chunk{}, io.EOF
	}
	for s.stream.Next() {
		chunk := s.stream.Current()
		if len(chunk.Choices) == 0 {
			continue
		}
		choice := chunk.Choices[0]
		for _, tc := range choice.Delta.ToolCalls {
			s.accumulate(tc)
		}
		if choice.Delta.Content != "" {
			return model.Chunk{Type: model.ChunkTypeText, Text: choice.Delta.Content}, nil
		}
		if choice.FinishReason != "" {
			s.flushCalls()
			s.pending = append(s.pending, model.Chunk{Type: model.ChunkTypeStop, StopReason: choice.FinishReason})
			return s.Recv()
		}
	}
	s.done = true
	if err := s.stream.Err(); err != nil {
		return model.Chunk{}, Classify(err)
	}
	// Some endpoints end the stream without a finish reason chunk.
	s.flushCalls()
	if len(s.pending) > 0 {
		return s.Recv()
	}
	return model.Chunk{}, io.EOF
}

func (s *streamer) accumulate(tc openai.ChatCompletionChunkChoiceDeltaToolCall) {
	if s.calls == nil {
		s.calls = make(map[int64]*partialCall)
	}
	call, ok := s.calls[tc.Index]
	if !ok {
		call = &partialCall{}
		s.calls[tc.Index] = call
	}
	if tc.Function.Name != "" {
		call.name = tc.Function.Name
	}
	if tc.Function.Arguments != "" {
		call.args = append(call.args, tc.Function.Arguments...)
	}
}

// flushCalls moves assembled tool calls into the pending queue in index
// order.
func (s *streamer) flushCalls() {
	if len(s.calls) == 0 {
		return
	}
	indexes := make([]int64, 0, len(s.calls))
	for i := range s.calls {
		indexes = append(indexes, i)
	}
	sort.Slice(indexes, func(a, b int) bool { return indexes[a] < indexes[b] })
	for _, i := range indexes {
		call := s.calls[i]
		if call.name == "" {
			continue
		}
		s.pending = append(s.pending, model.Chunk{
			Type:     model.ChunkTypeToolCall,
			ToolCall: &model.ToolCall{Name: call.name, Arguments: call.args},
		})
	}
	s.calls = nil
}

func (s *streamer) Close() error {
	s.done = true
	return s.stream.Close()
}
