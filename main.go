package main

import (
	"context"
	_ "embed"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/hegna/taskcore/internal/config"
	"github.com/hegna/taskcore/internal/handlers"
	"github.com/hegna/taskcore/internal/identity"
	"github.com/hegna/taskcore/internal/llm"
	"github.com/hegna/taskcore/internal/payment"
	"github.com/hegna/taskcore/internal/resilience"
	"github.com/hegna/taskcore/internal/store"
	"github.com/hegna/taskcore/internal/web"
	"github.com/hegna/taskcore/internal/worker"
)

//go:embed .version
var version string

// setupLogger configures the global slog logger based on debug setting
func setupLogger(debug bool) {
	level := slog.LevelInfo
	if debug {
		level = slog.LevelDebug
	}

	handler := slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
		Level: level,
	})
	slog.SetDefault(slog.New(handler))
}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// Load .env file if present (ignore errors if file doesn't exist)
	_ = godotenv.Load()

	// Parse command-line flags
	var (
		port       = flag.Int("port", 0, "Port to listen on (overrides config)")
		host       = flag.String("host", "", "Host to bind to (overrides config)")
		configPath = flag.String("config", "", "Config file path")
		debug      = flag.Bool("debug", false, "Enable debug logging")
		showVer    = flag.Bool("version", false, "Show version")
	)
	flag.Parse()

	if *showVer {
		fmt.Println(strings.TrimSpace(version))
		return nil
	}

	// Load configuration
	cfg, err := config.Load(*configPath)
	if err != nil {
		return fmt.Errorf("failed to load config: %w", err)
	}

	if *host != "" {
		cfg.Web.Host = *host
	}
	if *port != 0 {
		cfg.Web.Port = *port
	}
	if *debug {
		cfg.Debug = true
	}

	// Set up slog based on debug setting
	setupLogger(cfg.Debug)
	slog.Info("starting taskcore", "version", strings.TrimSpace(version))

	ctx := context.Background()

	// Open the task store
	st, err := openStore(cfg)
	if err != nil {
		return err
	}
	defer st.Close()

	// Build the executor
	client, err := llm.NewClient(ctx, cfg.GetAPIKey(), cfg.LLM.Model)
	if err != nil {
		return fmt.Errorf("failed to create LLM client: %w", err)
	}
	defer client.Close()

	var executor worker.Executor
	if cfg.LLM.UseAgent {
		executor = llm.NewAgentExecutor(client, cfg.LLM.AgentName, cfg.Worker.SystemPrompt)
	} else {
		executor = llm.NewBatchExecutor(client)
	}

	// Artifact signing
	signer, err := openSigner(cfg)
	if err != nil {
		return err
	}

	// Settlement
	var settler worker.Settler = payment.Noop{}
	if cfg.Payment.Enabled {
		if cfg.Payment.Endpoint == "" {
			return fmt.Errorf("payment enabled but no endpoint configured")
		}
		settler = payment.NewHTTPSettler(cfg.Payment.Endpoint)
	}

	guard := resilience.NewGuard(cfg.ResilienceGuardConfig())

	pipeline := worker.New(st, executor, cfg.WorkerPipelineConfig(), worker.Options{
		Guard:   guard,
		Signer:  signer,
		Settler: settler,
	})

	h := handlers.New(st, pipeline)

	server := web.NewServer(h, cfg.Web.Host, cfg.Web.Port)
	slog.Info("starting web server", "address", server.Address())
	return server.Start()
}

// openStore opens the configured task store backend
func openStore(cfg *config.Config) (store.Store, error) {
	switch cfg.Storage.Driver {
	case "", "memory":
		slog.Warn("using in-memory task store, tasks will not survive restarts")
		return store.NewMemory(), nil
	case "postgres":
		dsn := cfg.GetDSN()
		if dsn == "" {
			return nil, fmt.Errorf("postgres storage requires a DSN")
		}
		st, err := store.Open(dsn)
		if err != nil {
			return nil, fmt.Errorf("failed to open database: %w", err)
		}
		return st, nil
	default:
		return nil, fmt.Errorf("unknown storage driver: %q", cfg.Storage.Driver)
	}
}

// openSigner loads the configured signing key, or generates an
// ephemeral one when no key path is set
func openSigner(cfg *config.Config) (*identity.Ed25519Signer, error) {
	if cfg.Identity.KeyPath != "" {
		signer, err := identity.LoadSigner(cfg.Identity.KeyPath)
		if err != nil {
			return nil, err
		}
		return signer, nil
	}
	slog.Warn("no signing key configured, generating an ephemeral key")
	return identity.GenerateSigner()
}
