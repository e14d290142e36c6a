package cmd

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/adalundhe/quorum/core/config"
	"github.com/adalundhe/quorum/core/consensus"
	"github.com/adalundhe/quorum/core/credentials"
	"github.com/adalundhe/quorum/core/events"
	"github.com/adalundhe/quorum/core/memory"
	"github.com/adalundhe/quorum/core/providers"
	"github.com/adalundhe/quorum/core/store"
)

const openRouterBaseURL = "https://openrouter.ai/api/v1"

var (
	askProfile string
	askQuiet   bool
)

var askCmd = &cobra.Command{
	Use:   "ask <query>",
	Short: "Run a query through the consensus pipeline",
	Args:  cobra.MinimumNArgs(1),
	RunE:  runAsk,
}

func init() {
	askCmd.Flags().StringVar(&askProfile, "profile", "", "profile name (defaults to the active profile)")
	askCmd.Flags().BoolVar(&askQuiet, "quiet", false, "suppress progress output")
	rootCmd.AddCommand(askCmd)
}

func runAsk(cmd *cobra.Command, args []string) error {
	ctx := cmd.Context()
	query := strings.Join(args, " ")

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}

	st, err := store.Open(store.DefaultConfig(cfg.DatabasePath()))
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer st.Close()

	if err := ensureDefaultProfile(ctx, st, cfg); err != nil {
		return err
	}

	registry, err := buildRegistry(cfg)
	if err != nil {
		return err
	}
	defer registry.Close()

	index, err := memory.NewFragmentIndex(0)
	if err != nil {
		return err
	}
	defer index.Close()

	retriever, err := memory.NewRetriever(st, index, memory.RetrieverConfig{
		Limit:          cfg.Consensus.MemoryLimit,
		QueryCacheSize: cfg.Consensus.QueryCacheLen,
	})
	if err != nil {
		return err
	}
	if err := retriever.SeedIndex(ctx); err != nil {
		cmd.PrintErrf("warning: memory index seed failed: %v\n", err)
	}

	bus := events.NewProgressBus(cfg.Consensus.EventBuffer)
	bus.Start()
	defer bus.Close()
	if !askQuiet {
		bus.Subscribe(&progressPrinter{cmd: cmd})
	}

	engine, err := consensus.NewEngine(consensus.EngineConfig{
		Completer:    registry,
		Profiles:     st,
		Context:      retriever,
		Pricing:      st,
		Transcripts:  st,
		Usage:        st,
		Fragments:    &corpusWriter{store: st, retriever: retriever},
		Observer:     events.NewBusObserver(bus),
		CallTimeout:  cfg.LLM.Timeout,
		MaxTokens:    cfg.LLM.MaxTokens,
		Temperature:  cfg.LLM.Temperature,
		MaxRetries:   cfg.LLM.MaxRetries,
		RetryBackoff: cfg.LLM.RetryBackoff,
	})
	if err != nil {
		return err
	}

	result, err := engine.Ask(ctx, consensus.Request{
		Query:       query,
		ProfileName: askProfile,
	})
	if err != nil {
		return err
	}

	cmd.Println(result.ResponseText)
	cmd.Println()
	cmd.Printf("rounds: %d  consensus: %s  tokens: %d  cost: $%.6f\n",
		result.RoundsCompleted, result.ConsensusType, result.TotalTokens, result.TotalCost)
	return nil
}

// buildRegistry registers every provider with a usable credential. The
// OpenRouter gateway is registered last so native SDKs keep their models.
func buildRegistry(cfg config.Config) (*providers.Registry, error) {
	registry := providers.NewRegistry()
	registered := 0

	if key, err := credentials.ResolveAPIKey("anthropic"); err == nil {
		pc := providers.DefaultAnthropicConfig()
		pc.APIKey = key
		if err := registry.RegisterAnthropic(pc); err != nil {
			return nil, err
		}
		registered++
	}

	if key, err := credentials.ResolveAPIKey("openai"); err == nil {
		pc := providers.DefaultOpenAIConfig()
		pc.APIKey = key
		if err := registry.RegisterOpenAI(pc); err != nil {
			return nil, err
		}
		registered++
	}

	if key, err := credentials.ResolveAPIKey("openrouter"); err == nil {
		pc := providers.DefaultOpenAIConfig()
		pc.APIKey = key
		pc.Gateway = true
		pc.BaseURL = cfg.LLM.GatewayURL
		if pc.BaseURL == "" {
			pc.BaseURL = openRouterBaseURL
		}
		if err := registry.RegisterOpenAI(pc); err != nil {
			return nil, err
		}
		registered++
	}

	if registered == 0 {
		return nil, &consensus.ConfigurationError{
			Field: "credentials",
			Reason: fmt.Sprintf("no provider credentials found; set %s, %s, or %s",
				credentials.EnvKeyName("anthropic"),
				credentials.EnvKeyName("openai"),
				credentials.EnvKeyName("openrouter")),
		}
	}
	return registry, nil
}

// ensureDefaultProfile seeds a starter profile on first run so ask works out
// of the box.
func ensureDefaultProfile(ctx context.Context, st *store.Store, cfg config.Config) error {
	profiles, err := st.ListProfiles(ctx)
	if err != nil {
		return err
	}
	if len(profiles) > 0 {
		return nil
	}

	p := &store.Profile{
		Name:           "balanced",
		GeneratorModel: providers.DefaultAnthropicConfig().Model,
		RefinerModel:   providers.DefaultOpenAIConfig().Model,
		ValidatorModel: providers.DefaultAnthropicConfig().Model,
		CuratorModel:   providers.DefaultAnthropicConfig().Model,
		MaxRounds:      cfg.Consensus.MaxRounds,
	}
	if err := st.SaveProfile(ctx, p); err != nil {
		return err
	}
	return st.SetActiveProfile(ctx, p.ID)
}

// corpusWriter appends fragments to the store and keeps the in-memory index
// current.
type corpusWriter struct {
	store     *store.Store
	retriever *memory.Retriever
}

func (w *corpusWriter) AppendFragment(ctx context.Context, f store.Fragment) error {
	if f.CreatedAt.IsZero() {
		f.CreatedAt = time.Now().UTC()
	}
	if err := w.store.AppendFragment(ctx, f); err != nil {
		return err
	}
	w.retriever.Remember(f)
	return nil
}

// progressPrinter renders stage and round events to stderr.
type progressPrinter struct {
	cmd *cobra.Command
}

func (p *progressPrinter) ID() string { return "cli-progress" }

func (p *progressPrinter) Types() []events.EventType { return nil }

func (p *progressPrinter) OnEvent(event *events.ProgressEvent) {
	switch event.Type {
	case events.EventRoundStarted:
		p.cmd.PrintErrf("round %d\n", event.Round)
	case events.EventStageStatus:
		p.cmd.PrintErrf("  %s %s\n", event.Stage, event.Status)
	}
}
