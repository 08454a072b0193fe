// Package history builds the conversation context window for a session. It
// trims prior turns to a token/message budget, always preserving the most
// recent turns, and marks the cut point so the model knows earlier context
// was dropped.
package history

import (
	"github.com/HoomanBuilds/nosana-chat/runtime/chat/model"
)

type (
	// Budget bounds the trimmed context window.
	Budget struct {
		// MinMessages is the number of most recent turns always kept whenever
		// the history has at least that many, even when that exceeds
		// SoftTokenCap.
		MinMessages int
		// SoftTokenCap is the preferred token ceiling. Trimming stops adding
		// older turns once the estimate crosses it, subject to MinMessages.
		SoftTokenCap int
		// HardTokenCap is the absolute ceiling. Turns beyond it are dropped
		// even below MinMessages, oldest first.
		HardTokenCap int
	}

	// Trimmer selects the context window. The interface exists so sessions
	// can take test doubles; Window is the production implementation.
	Trimmer interface {
		Trim(history []model.Message, budget Budget) []model.Message
	}

	// Window is the default Trimmer.
	Window struct{}
)

// TruncationNotice prefixes the trimmed history when older turns were
// dropped, so the model does not hallucinate missing context.
const TruncationNotice = "...no history above this point"

// DefaultBudget returns the trim budget used when the caller does not supply
// one.
func DefaultBudget() Budget {
	return Budget{
		MinMessages:  4,
		SoftTokenCap: 6000,
		HardTokenCap: 12000,
	}
}

// Trim returns an ordered subsequence of history preserving the most recent
// turns within budget. When truncation occurred the result is prefixed with a
// system turn carrying TruncationNotice. The input slice is never mutated.
func (Window) Trim(history []model.Message, budget Budget) []model.Message {
	if len(history) == 0 {
		return nil
	}
	if budget.MinMessages <= 0 && budget.SoftTokenCap <= 0 && budget.HardTokenCap <= 0 {
		budget = DefaultBudget()
	}

	// Walk from the newest turn backwards, accumulating the token estimate.
	tokens := 0
	start := len(history)
	for i := len(history) - 1; i >= 0; i-- {
		cost := EstimateTokens(history[i].Content)
		kept := len(history) - 1 - i
		if budget.HardTokenCap > 0 && tokens+cost > budget.HardTokenCap && kept > 0 {
			break
		}
		if budget.SoftTokenCap > 0 && tokens+cost > budget.SoftTokenCap && kept >= budget.MinMessages {
			break
		}
		tokens += cost
		start = i
	}

	if start == 0 {
		out := make([]model.Message, len(history))
		copy(out, history)
		return out
	}
	out := make([]model.Message, 0, len(history)-start+1)
	out = append(out, model.Message{Role: model.RoleSystem, Content: TruncationNotice})
	out = append(out, history[start:]...)
	return out
}

// EstimateTokens approximates the token count of text. Four characters per
// token is the usual rule of thumb for English chat traffic; the budget caps
// are soft enough that precision does not matter here.
func EstimateTokens(text string) int {
	n := len(text) / 4
	if n == 0 && len(text) > 0 {
		n = 1
	}
	return n
}
