// Package appctx wires every component together into one running
// application (Design Notes §9's "explicit context" pattern, grounded on
// the teacher's cmd/picobot/main.go gatewayCmd, which constructs every
// collaborator inline before starting goroutines). Build is the single
// place that knows every concrete adapter; every other package only sees
// interfaces.
package appctx

import (
	"context"
	"fmt"
	"path/filepath"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/local/denidin/internal/clock"
	"github.com/local/denidin/internal/config"
	"github.com/local/denidin/internal/history"
	"github.com/local/denidin/internal/lifecycle"
	"github.com/local/denidin/internal/llmclient"
	"github.com/local/denidin/internal/memory"
	"github.com/local/denidin/internal/pipeline"
	"github.com/local/denidin/internal/rbac"
	"github.com/local/denidin/internal/session"
	"github.com/local/denidin/internal/summary"
	"github.com/local/denidin/internal/transport"
)

// embeddingDimension is OpenAI's text-embedding-3-small output size, the
// configured default embedding model (internal/config's applyDefaults).
const embeddingDimension = 1536

// preambleReserve is subtracted from a user's token budget before history
// selection, covering the constitution text and the pending prompt
// (spec.md §4.4 step 3). A fixed reserve matches the teacher's own flat
// headroom constants (see AgentDefaults.MaxTokens usage) rather than
// computing the constitution's exact token count on every Compose call.
const preambleReserve = 1024

// App holds every constructed component for the lifetime of one process.
type App struct {
	Config    config.Config
	Directory *rbac.Directory
	Sessions  *session.Store
	Memories  *memory.Store
	Worker    *lifecycle.Worker
	Pipeline  *pipeline.Pipeline
	Transport *transport.WhatsAppTransport

	qdrant  *memory.QdrantIndex
	replyTo *lazyTransport
}

// Build constructs the full dependency graph from cfg but starts nothing
// network-facing (no WhatsApp connection, no background worker goroutine);
// call Run to start the process.
func Build(ctx context.Context, cfg config.Config) (*App, error) {
	directory := rbac.New(rbac.Config{
		GodfatherPhone: cfg.GodfatherPh,
		AdminPhones:    cfg.UserRoles.AdminPhones,
		BlockedPhones:  cfg.UserRoles.BlockedPhones,
	})

	tok, err := session.NewTokenizer(cfg.AIModel)
	if err != nil {
		log.Warn().Err(err).Msg("appctx: falling back to the default tokenizer")
		tok = session.DefaultTokenizer()
	}

	sessionDir := cfg.Memory.Session.StorageDir
	if sessionDir == "" {
		sessionDir = filepath.Join(cfg.DataRoot, "sessions")
	}
	timeout := time.Duration(cfg.Memory.Session.SessionTimeoutHours) * time.Hour
	sessions, err := session.NewStore(sessionDir, timeout, tok, clock.SystemClock{})
	if err != nil {
		return nil, fmt.Errorf("appctx: construct session store: %w", err)
	}

	memories, qdrantIndex, err := buildMemoryStore(cfg)
	if err != nil {
		return nil, fmt.Errorf("appctx: construct memory store: %w", err)
	}

	anthropicClient := llmclient.NewAnthropicClient(cfg.Anthropic.APIKey, cfg.Anthropic.BaseURL, cfg.AIModel)

	constitutionPath := cfg.Constitution.File
	constitution := history.NewConstitutionCache(constitutionPath)
	assembler := history.NewAssembler(constitution, sessions, memories, tok, cfg.AIModel, cfg.ReplyMaxTok, cfg.Temperature, preambleReserve)

	summariser := summary.New(sessions, anthropicClient, memories, clock.SystemClock{}, cfg.AIModel)

	collectionFor := func(chatID string) string {
		return cfg.Memory.Longterm.CollectionName + "_" + chatID
	}
	worker := lifecycle.NewWorker(sessions, summariser, collectionFor, time.Duration(cfg.Memory.Session.CleanupIntervalSeconds)*time.Second)

	pipelineCfg := pipeline.Config{
		AssistantName:       "DeniDin",
		RecallCollectionFor: collectionFor,
		Recall:              history.RecallParams{TopK: cfg.Memory.Longterm.TopKResults, MinSimilarity: cfg.Memory.Longterm.MinSimilarity},
		RecallByRole:        recallOverridesByRole(cfg),
	}

	// Pipeline.Reply and the concrete transport are mutually dependent
	// (the transport delivers to the pipeline; the pipeline replies
	// through the transport), so the transport's Reply calls are routed
	// through this indirection, filled in once the transport connects in
	// Run, rather than threading a second constructor argument back in.
	txIndirect := &lazyTransport{}
	p := pipeline.New(directory, assembler, sessions, anthropicClient, txIndirect, pipelineCfg)

	return &App{
		Config:    cfg,
		Directory: directory,
		Sessions:  sessions,
		Memories:  memories,
		Worker:    worker,
		Pipeline:  p,
		qdrant:    qdrantIndex,
		replyTo:   txIndirect,
		// Transport is set by Run once the WhatsApp connection succeeds.
	}, nil
}

// recallOverridesByRole turns the config's flat, string-keyed per-role
// recall overrides into pipeline.Config's rbac.Role-keyed form. A role
// present in only one of the two maps still gets an override, falling
// back to the global top-K or similarity floor for the missing half.
func recallOverridesByRole(cfg config.Config) map[rbac.Role]history.RecallParams {
	lt := cfg.Memory.Longterm
	if len(lt.TopKResultsByRole) == 0 && len(lt.MinSimilarityByRole) == 0 {
		return nil
	}

	overrides := make(map[rbac.Role]history.RecallParams)
	seen := func(role string) {
		r := rbac.Role(role)
		params, ok := overrides[r]
		if !ok {
			params = history.RecallParams{TopK: lt.TopKResults, MinSimilarity: lt.MinSimilarity}
		}
		if v, ok := lt.TopKResultsByRole[role]; ok {
			params.TopK = v
		}
		if v, ok := lt.MinSimilarityByRole[role]; ok {
			params.MinSimilarity = v
		}
		overrides[r] = params
	}
	for role := range lt.TopKResultsByRole {
		seen(role)
	}
	for role := range lt.MinSimilarityByRole {
		seen(role)
	}
	return overrides
}

func buildMemoryStore(cfg config.Config) (*memory.Store, *memory.QdrantIndex, error) {
	if !cfg.Features.EnableMemorySystem || !cfg.Memory.Longterm.Enabled {
		return memory.New(memory.NoopIndex{}, memory.NoopEmbedder{}, clock.SystemClock{}), nil, nil
	}

	index, err := memory.NewQdrantIndex(
		cfg.Memory.Longterm.QdrantHost,
		cfg.Memory.Longterm.QdrantPort,
		cfg.Memory.Longterm.QdrantAPIKey,
		cfg.Memory.Longterm.QdrantUseTLS,
		embeddingDimension,
	)
	if err != nil {
		// ERR-MEMORY-001 (spec.md §7): degrade rather than fail startup.
		log.Error().Err(err).Msg("appctx: qdrant init failed, disabling long-term memory for this process")
		return memory.New(memory.NoopIndex{}, memory.NoopEmbedder{}, clock.SystemClock{}), nil, nil
	}

	openaiClient := llmclient.NewOpenAIClient(cfg.OpenAI.APIKey, cfg.OpenAI.BaseURL, cfg.AIModel)
	embedder := llmclient.WithModel(openaiClient, cfg.Memory.Longterm.EmbeddingModel)
	return memory.New(index, embedder, clock.SystemClock{}), index, nil
}

// lazyTransport satisfies transport.Transport before the concrete
// WhatsApp connection exists, and forwards to it afterward.
type lazyTransport struct {
	t transport.Transport
}

func (l *lazyTransport) Reply(ctx context.Context, n transport.Notification, text string) error {
	if l.t == nil {
		return fmt.Errorf("appctx: transport not yet connected")
	}
	return l.t.Reply(ctx, n, text)
}

// Run connects the WhatsApp transport and starts the lifecycle worker,
// blocking until ctx is cancelled (SIGINT/SIGTERM in cmd/denidin).
func (a *App) Run(ctx context.Context) error {
	wa, err := transport.StartWhatsApp(ctx, a.Config.WhatsApp.DBPath, a.Pipeline)
	if err != nil {
		return fmt.Errorf("appctx: start whatsapp: %w", err)
	}
	a.Transport = wa
	a.replyTo.t = wa

	go a.Worker.Run(ctx)

	<-ctx.Done()
	log.Info().Msg("appctx: shutting down")
	a.Worker.Shutdown(10 * time.Second)
	if a.qdrant != nil {
		if err := a.qdrant.Close(); err != nil {
			log.Warn().Err(err).Msg("appctx: failed to close qdrant client cleanly")
		}
	}
	return nil
}
