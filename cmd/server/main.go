// solserver control plane — drives the conversational-assistant
// orchestration pipeline described in SPEC_FULL.md: evidence intake, gate
// chain, lattice retrieval, model call with bounded regeneration, output
// gating, memento/journal updates, and SSE lifecycle events.
package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/SolLabsHQ/solserver/internal/api"
	"github.com/SolLabsHQ/solserver/internal/api/handlers"
	"github.com/SolLabsHQ/solserver/internal/config"
	"github.com/SolLabsHQ/solserver/internal/driverblock"
	"github.com/SolLabsHQ/solserver/internal/embedding"
	"github.com/SolLabsHQ/solserver/internal/envelope"
	"github.com/SolLabsHQ/solserver/internal/evidence"
	"github.com/SolLabsHQ/solserver/internal/gates"
	"github.com/SolLabsHQ/solserver/internal/lattice"
	"github.com/SolLabsHQ/solserver/internal/memoryartifact"
	"github.com/SolLabsHQ/solserver/internal/orchestrator"
	"github.com/SolLabsHQ/solserver/internal/provider"
	"github.com/SolLabsHQ/solserver/internal/sse"
	"github.com/SolLabsHQ/solserver/internal/store"
	"github.com/SolLabsHQ/solserver/internal/telemetry"
	"github.com/SolLabsHQ/solserver/pkg/contracts"
)

// pgvectorDimensions is the embedding width DeterministicDriver produces;
// kept fixed since the schema pins its vector column width at migration time.
const pgvectorDimensions = 32

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.RFC3339})

	cfg := config.Load()

	log.Info().Msg("solserver control plane starting")

	shutdownTelemetry, err := telemetry.Init(cfg.Telemetry)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to initialize telemetry")
	}

	st := store.NewMemoryStore(cfg.Store.DataDir, cfg.Trace.TTLDays)
	defer st.Close()

	llmProvider := buildProvider(cfg)
	latticeRetriever := buildLattice(cfg, st)

	orch := orchestrator.New(
		cfg,
		st,
		llmProvider,
		gates.NewDefaultChain(),
		latticeRetriever,
		evidence.NewNormalizer(nil),
		envelope.NewValidator(),
		driverblock.NewBundle(cfg.Enforcement.DriverBlockBundlePath),
		sse.NewHub(),
	)

	h := &handlers.Handlers{
		Orchestrator: orch,
		Store:        st,
		Hub:          orch.Hub,
		Cfg:          cfg,
	}

	router := api.NewRouter(cfg, h)

	httpServer := &http.Server{
		Addr:         fmt.Sprintf(":%d", cfg.Port),
		Handler:      router,
		ReadTimeout:  30 * time.Second,
		WriteTimeout: 60 * time.Second,
		IdleTimeout:  120 * time.Second,
	}

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		log.Info().Msg("shutting down gracefully")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
		shutdownTelemetry(shutdownCtx)
	}()

	log.Info().Int("port", cfg.Port).Str("env", cfg.Env).Msg("solserver ready")

	if err := httpServer.ListenAndServe(); err != http.ErrServerClosed {
		log.Fatal().Err(err).Msg("server failed")
	}
}

func buildProvider(cfg *config.Config) contracts.LLMProviderDriver {
	if cfg.Provider.Kind == "openai" {
		if cfg.Provider.OpenAIAPIKey == "" {
			log.Warn().Msg("LLM_PROVIDER=openai but OPENAI_API_KEY is unset; requests will fail config validation")
		}
		return provider.NewOpenAIDriver(cfg.Provider.OpenAIAPIKey, cfg.Provider.OpenAIModel)
	}
	return provider.FakeDriver{}
}

func buildLattice(cfg *config.Config, st store.Store) *lattice.Retriever {
	mem := memoryartifact.NewStoreBackedLexical(st)

	if !cfg.Lattice.VecEnabled {
		return lattice.NewRetriever(cfg.Lattice, mem, nil, nil)
	}

	var vec contracts.VectorStoreDriver
	if cfg.Lattice.PgvectorURL != "" {
		pv, err := memoryartifact.NewPgvectorStore(context.Background(), cfg.Lattice.PgvectorURL, pgvectorDimensions)
		if err != nil {
			log.Error().Err(err).Msg("failed to connect pgvector store, falling back to embedded vector search")
			vec = memoryartifact.NewEmbeddedStore()
		} else {
			vec = pv
		}
	} else {
		vec = memoryartifact.NewEmbeddedStore()
	}

	return lattice.NewRetriever(cfg.Lattice, mem, vec, embedding.DeterministicDriver{})
}
