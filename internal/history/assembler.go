package history

import (
	"context"
	"fmt"
	"strings"

	"github.com/rs/zerolog/log"

	"github.com/local/denidin/internal/memory"
	"github.com/local/denidin/internal/rbac"
	"github.com/local/denidin/internal/session"
)

const recalledMemoriesHeader = "### Recalled memories\n"

// RecallParams carries the per-role recall tuning supplemented into the
// config schema (SPEC_FULL.md §5: "per-role recall parameters").
type RecallParams struct {
	TopK          int
	MinSimilarity float64
}

// Input is the structured LLM request produced by Compose (spec.md §4.4).
type Input struct {
	System         string
	History        []session.Turn
	Prompt         string
	Model          string
	MaxReplyTokens int
	Temperature    float64
}

// SessionHistory is the subset of session.Store Compose needs.
type SessionHistory interface {
	History(chatID string) ([]session.Turn, error)
}

// Assembler implements spec.md §4.4's Compose algorithm.
type Assembler struct {
	constitution *ConstitutionCache
	sessions     SessionHistory
	memories     *memory.Store
	tok          session.Tokenizer

	model          string
	maxReplyTokens int
	temperature    float64
	preambleReserve int
}

// NewAssembler wires the collaborators Compose needs. preambleReserve is
// the token allowance subtracted from the user's budget before selecting
// the history window, covering the preamble and pending prompt (spec.md
// §4.4 step 3).
func NewAssembler(constitution *ConstitutionCache, sessions SessionHistory, memories *memory.Store, tok session.Tokenizer, model string, maxReplyTokens int, temperature float64, preambleReserve int) *Assembler {
	return &Assembler{
		constitution:    constitution,
		sessions:        sessions,
		memories:        memories,
		tok:             tok,
		model:           model,
		maxReplyTokens:  maxReplyTokens,
		temperature:     temperature,
		preambleReserve: preambleReserve,
	}
}

// Compose builds the LLM input for one inbound prompt from user in chatID
// (spec.md §4.4).
func (a *Assembler) Compose(ctx context.Context, user rbac.User, chatID, prompt string, recallCollection string, recall RecallParams) (Input, error) {
	system, err := a.constitution.Get()
	if err != nil {
		return Input{}, err
	}

	hits, err := a.memories.RecallWithRBACFilter(ctx, prompt, []string{recallCollection}, user.Phone, user.AllowedScopes, user.CanSeeAllMemories, recall.TopK, recall.MinSimilarity)
	if err != nil {
		log.Warn().Err(err).Str("chat_id", chatID).Msg("history: recall failed, proceeding without memories")
		hits = nil
	}
	if len(hits) > 0 {
		system = system + "\n\n" + formatMemoriesBlock(hits)
	}

	turns, err := a.sessions.History(chatID)
	if err != nil {
		return Input{}, err
	}

	budget := user.TokenLimit - a.preambleReserve - a.tok.Count(prompt)
	window := selectSuffixWithinBudget(turns, budget, a.tok)

	return Input{
		System:         system,
		History:        window,
		Prompt:         prompt,
		Model:          a.model,
		MaxReplyTokens: a.maxReplyTokens,
		Temperature:    a.temperature,
	}, nil
}

// selectSuffixWithinBudget returns the longest contiguous suffix of turns
// whose cumulative token count does not exceed budget.
func selectSuffixWithinBudget(turns []session.Turn, budget int, tok session.Tokenizer) []session.Turn {
	if budget <= 0 {
		return nil
	}
	total := 0
	start := len(turns)
	for i := len(turns) - 1; i >= 0; i-- {
		c := tok.Count(turns[i].Content)
		if total+c > budget {
			break
		}
		total += c
		start = i
	}
	return turns[start:]
}

func formatMemoriesBlock(hits []memory.Hit) string {
	var sb strings.Builder
	sb.WriteString(recalledMemoriesHeader)
	for _, h := range hits {
		sb.WriteString(fmt.Sprintf("- %s\n", h.Content))
	}
	return sb.String()
}
