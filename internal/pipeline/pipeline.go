// Package pipeline implements the MessagePipeline component (spec.md
// §4.7): the synchronous per-message orchestration from a transport
// notification through history assembly, the LLM call, persistence, and
// the reply.
package pipeline

import (
	"context"
	"errors"
	"strings"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/denidin/internal/history"
	"github.com/local/denidin/internal/llmclient"
	"github.com/local/denidin/internal/rbac"
	"github.com/local/denidin/internal/session"
	"github.com/local/denidin/internal/transport"
)

const (
	// maxReplyChars is the transport's per-message size (spec.md §4.7 step 7).
	maxReplyChars = 4000
	// maxInboundChars truncates an oversized inbound message before it
	// reaches HistoryAssembler (SPEC_FULL.md §5, ai_handler.py's
	// MAX_MESSAGE_LENGTH), distinct from the reply-side cap above.
	maxInboundChars = 10000

	unsupportedKindReply = "Sorry, I can only handle text messages right now."
	blockedUserReply     = "" // empty means drop silently, per spec.md §4.7 step 3
	fallbackReply        = "Something went wrong on my end. Please try again in a moment."
	resetCommand         = "!reset"
	resetReply           = "Session cleared."

	retryBackoff = time.Second
)

// UserDirectory is the subset of rbac.Directory Handle needs.
type UserDirectory interface {
	Lookup(phone string) (rbac.User, error)
}

// SessionWriter is the subset of session.Store Handle needs beyond what
// HistoryAssembler already uses for reads.
type SessionWriter interface {
	AppendWithTokenLimit(chatID string, role session.Role, content, sender, recipient string, roleLimit int) (string, error)
	Clear(chatID string) error
}

// Config carries the pipeline's tunables (SPEC_FULL.md §5, §6).
type Config struct {
	AssistantName       string
	RecallCollectionFor func(chatID string) string
	Recall              history.RecallParams
	// RecallByRole overrides Recall for specific roles (SPEC_FULL.md §5's
	// per-role recall parameters: a GODFATHER or ADMIN chat may warrant a
	// wider or narrower recall window than the CLIENT default). A role
	// absent from this map falls back to Recall.
	RecallByRole map[rbac.Role]history.RecallParams
}

// recallFor resolves the effective recall parameters for a role, falling
// back to the global default when no per-role override is configured.
func (c Config) recallFor(role rbac.Role) history.RecallParams {
	if params, ok := c.RecallByRole[role]; ok {
		return params
	}
	return c.Recall
}

// Pipeline implements Handle (spec.md §4.7).
type Pipeline struct {
	users     UserDirectory
	assembler *history.Assembler
	sessions  SessionWriter
	completer llmclient.Completer
	transport transport.Transport
	cfg       Config
}

// New constructs a Pipeline.
func New(users UserDirectory, assembler *history.Assembler, sessions SessionWriter, completer llmclient.Completer, t transport.Transport, cfg Config) *Pipeline {
	return &Pipeline{users: users, assembler: assembler, sessions: sessions, completer: completer, transport: t, cfg: cfg}
}

// Handle runs the full per-message protocol for one notification. It never
// returns an error to the caller: every failure is absorbed into a reply
// (or a silent drop) per spec.md §4.7 step 9, so a transport adapter can
// call Handle from a fire-and-forget goroutine per message.
func (p *Pipeline) Handle(ctx context.Context, n transport.Notification) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Str("notification_id", n.ID).Msg("pipeline: recovered from panic, sending fallback reply")
			p.safeReply(ctx, n, fallbackReply)
		}
	}()

	if n.Kind != transport.KindText {
		log.Debug().Str("notification_id", n.ID).Str("kind", string(n.Kind)).Msg("pipeline: rejecting unsupported message kind")
		p.safeReply(ctx, n, unsupportedKindReply)
		return
	}

	if n.IsGroup && !p.mentionsAssistant(n.Text) {
		log.Debug().Str("chat_id", n.ChatID).Msg("pipeline: group message does not mention assistant, skipping")
		return
	}

	user, err := p.users.Lookup(n.Sender)
	if err != nil {
		log.Error().Err(err).Str("sender", n.Sender).Msg("pipeline: user lookup failed")
		p.safeReply(ctx, n, fallbackReply)
		return
	}
	if user.IsBlocked() {
		log.Info().Str("sender", n.Sender).Msg("pipeline: dropping message from blocked user")
		if blockedUserReply != "" {
			p.safeReply(ctx, n, blockedUserReply)
		}
		return
	}

	text := truncateInbound(n.Text)

	if isResetCommand(text) && (user.Role == rbac.RoleAdmin || user.Role == rbac.RoleGodfather) {
		if err := p.sessions.Clear(n.ChatID); err != nil {
			log.Error().Err(err).Str("chat_id", n.ChatID).Msg("pipeline: reset command failed")
			p.safeReply(ctx, n, fallbackReply)
			return
		}
		p.safeReply(ctx, n, resetReply)
		return
	}

	collection := p.cfg.RecallCollectionFor(n.ChatID)
	input, err := p.assembler.Compose(ctx, user, n.ChatID, text, collection, p.cfg.recallFor(user.Role))
	if err != nil {
		log.Error().Err(err).Str("chat_id", n.ChatID).Msg("pipeline: history assembly failed")
		p.safeReply(ctx, n, fallbackReply)
		return
	}

	replyText, _, _, err := p.completeWithRetry(ctx, input)
	if err != nil {
		log.Error().Err(err).Str("chat_id", n.ChatID).Msg("pipeline: LLM completion failed")
		p.safeReply(ctx, n, fallbackReply)
		return
	}

	if _, err := p.sessions.AppendWithTokenLimit(n.ChatID, session.RoleUser, text, n.Sender, p.cfg.AssistantName, user.TokenLimit); err != nil {
		log.Error().Err(err).Str("chat_id", n.ChatID).Msg("pipeline: failed to persist user turn")
		p.safeReply(ctx, n, fallbackReply)
		return
	}
	if _, err := p.sessions.AppendWithTokenLimit(n.ChatID, session.RoleAssistant, replyText, p.cfg.AssistantName, n.Sender, user.TokenLimit); err != nil {
		log.Error().Err(err).Str("chat_id", n.ChatID).Msg("pipeline: failed to persist assistant turn")
		// The reply was already generated; still attempt to deliver it even
		// though persistence failed — losing a round-trip reply to the user
		// is worse than a history gap the lifecycle worker's summary won't see.
	}

	outbound, truncated := truncateReply(replyText)
	if truncated {
		log.Debug().Str("chat_id", n.ChatID).Bool("is_truncated", true).Msg("pipeline: reply truncated to transport limit")
	}

	p.replyWithRetry(ctx, n, outbound)
}

func (p *Pipeline) mentionsAssistant(text string) bool {
	if p.cfg.AssistantName == "" {
		return true
	}
	return strings.Contains(strings.ToLower(text), strings.ToLower(p.cfg.AssistantName))
}

func isResetCommand(text string) bool {
	return strings.EqualFold(strings.TrimSpace(text), resetCommand)
}

func truncateInbound(text string) string {
	if len(text) <= maxInboundChars {
		return text
	}
	log.Debug().Int("original_length", len(text)).Msg("pipeline: truncating oversized inbound message")
	return text[:maxInboundChars]
}

func truncateReply(text string) (string, bool) {
	if len(text) <= maxReplyChars {
		return text, false
	}
	return text[:maxReplyChars-3] + "...", true
}

// completeWithRetry implements spec.md §4.7 step 5: one retry on a
// transient provider error class, fixed one-second backoff, no retry on
// permanent (4xx) errors.
func (p *Pipeline) completeWithRetry(ctx context.Context, in history.Input) (string, llmclient.Usage, string, error) {
	text, usage, finish, err := p.completer.Complete(ctx, in.System, in.History, in.Prompt, llmclient.Params{
		Model:          in.Model,
		MaxReplyTokens: in.MaxReplyTokens,
		Temperature:    in.Temperature,
	})
	if err == nil {
		return text, usage, finish, nil
	}
	if !isTransient(err) {
		return "", llmclient.Usage{}, "", err
	}

	log.Warn().Err(err).Msg("pipeline: transient LLM error, retrying once")
	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return "", llmclient.Usage{}, "", ctx.Err()
	}
	return p.completer.Complete(ctx, in.System, in.History, in.Prompt, llmclient.Params{
		Model:          in.Model,
		MaxReplyTokens: in.MaxReplyTokens,
		Temperature:    in.Temperature,
	})
}

// replyWithRetry implements spec.md §4.7 step 8: one retry on
// network/timeout/5xx, no retry on 4xx.
func (p *Pipeline) replyWithRetry(ctx context.Context, n transport.Notification, text string) {
	err := p.transport.Reply(ctx, n, text)
	if err == nil {
		return
	}
	if !isRetryableReplyErr(err) {
		log.Error().Err(err).Str("chat_id", n.ChatID).Msg("pipeline: reply failed, not retryable")
		return
	}

	log.Warn().Err(err).Str("chat_id", n.ChatID).Msg("pipeline: transient reply error, retrying once")
	select {
	case <-time.After(retryBackoff):
	case <-ctx.Done():
		return
	}
	if err := p.transport.Reply(ctx, n, text); err != nil {
		log.Error().Err(err).Str("chat_id", n.ChatID).Msg("pipeline: reply failed after retry")
	}
}

// safeReply sends text and swallows any error, since this is already the
// pipeline's own error-handling path.
func (p *Pipeline) safeReply(ctx context.Context, n transport.Notification, text string) {
	if err := p.transport.Reply(ctx, n, text); err != nil {
		log.Error().Err(err).Str("chat_id", n.ChatID).Msg("pipeline: failed to send error-path reply")
	}
}

func isRetryableReplyErr(err error) bool {
	var re *transport.ReplyError
	if errors.As(err, &re) {
		return re.Retryable()
	}
	// An unclassified transport error (not a *transport.ReplyError) is
	// treated as retryable, matching spec.md §7's default for errors that
	// don't fit the 4xx/5xx/timeout/network taxonomy.
	return true
}

// isTransient classifies a completer error as retryable (rate-limit,
// timeout, 5xx) per spec.md §4.7 step 5 / §7.
func isTransient(err error) bool {
	return llmclient.IsTransient(err)
}
