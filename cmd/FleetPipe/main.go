package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/joho/godotenv"

	"github.com/BTreeMap/FleetPipe/internal/api"
	"github.com/BTreeMap/FleetPipe/internal/config"
	"github.com/BTreeMap/FleetPipe/internal/flow"
	"github.com/BTreeMap/FleetPipe/internal/genai"
	"github.com/BTreeMap/FleetPipe/internal/narrative"
	"github.com/BTreeMap/FleetPipe/internal/store"
	"github.com/BTreeMap/FleetPipe/internal/tools"
	"github.com/BTreeMap/FleetPipe/internal/util"
)

// Default configuration constants
const (
	// DefaultStateDir is the default directory for FleetPipe state data
	DefaultStateDir = "/var/lib/fleetpipe"
	// DefaultDBFileName is the default SQLite database filename
	DefaultDBFileName = "fleetpipe.db"
	// DefaultToolsBaseURL is the tool service address used when none is configured
	DefaultToolsBaseURL = "http://localhost:8000"
	// DefaultFanoutLimit bounds concurrent tool calls in fleet-wide checks
	DefaultFanoutLimit = 4
)

func main() {
	config := loadEnvironmentConfig()
	initializeLogger(config.LogLevel, config.LogFormat)

	flags := parseCommandLineFlags(config)
	if *flags.debug {
		initializeLogger("debug", config.LogFormat)
	}

	if err := ensureDirectoriesExist(flags); err != nil {
		slog.Error("Failed to create required directories", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := run(ctx, flags); err != nil {
		slog.Error("FleetPipe failed to run", "error", err)
		os.Exit(1)
	}
	slog.Info("FleetPipe exited successfully")
}

// run wires every module and serves the API until ctx is cancelled.
func run(ctx context.Context, flags Flags) error {
	pack, err := config.LoadPromptPack(*flags.promptsFile)
	if err != nil {
		return fmt.Errorf("failed to load prompt pack: %w", err)
	}

	st, err := openStore(flags)
	if err != nil {
		return err
	}
	defer st.Close()

	gateway := tools.NewHTTPGateway(*flags.toolsBaseURL, buildToolOptions(flags)...)

	var generator genai.ClientInterface
	client, err := genai.NewClient(buildGenAIOptions(flags)...)
	switch {
	case errors.Is(err, genai.ErrMissingAPIKey):
		slog.Warn("No OpenAI API key configured, narratives will use static fallbacks")
	case err != nil:
		return fmt.Errorf("failed to create GenAI client: %w", err)
	default:
		generator = client
	}

	narrator := narrative.NewEngine(generator, buildNarrativeOptions(flags, pack)...)
	orchestrator := flow.NewOrchestrator(flow.Deps{
		Gateway:     gateway,
		Narrator:    narrator,
		Resolver:    flow.NewResolver(narrator, flow.WithPromptPack(pack)),
		FanoutLimit: *flags.fanoutLimit,
	})

	slog.Info("Bootstrapping FleetPipe with configured modules",
		"tools_base_url", *flags.toolsBaseURL,
		"store", storeKind(flags),
		"genai", generator != nil)
	server := api.NewServer(orchestrator, st, buildAPIOptions(flags, gateway)...)
	return server.Run(ctx)
}

// Config holds environment configuration
type Config struct {
	ToolsBaseURL string
	OpenAIKey    string
	OpenAIModel  string
	OpenAIURL    string
	APIAddr      string
	DatabaseURL  string
	StateDir     string
	PromptsFile  string
	InMemory     bool
	GenAIDebug   bool
	GenAITimeout time.Duration
	ToolTimeout  time.Duration
	TurnTimeout  time.Duration
	FanoutLimit  int
	LogLevel     string
	LogFormat    string
}

// Flags holds command line flag values
type Flags struct {
	toolsBaseURL *string
	openaiKey    *string
	openaiModel  *string
	openaiURL    *string
	apiAddr      *string
	dbDSN        *string
	stateDir     *string
	promptsFile  *string
	inMemory     *bool
	genaiDebug   *bool
	genaiTimeout *time.Duration
	toolTimeout  *time.Duration
	turnTimeout  *time.Duration
	fanoutLimit  *int
	debug        *bool
}

// initializeLogger installs the default slog handler for level and format
func initializeLogger(level, format string) {
	opts := &slog.HandlerOptions{Level: parseLogLevel(level)}
	var handler slog.Handler
	if strings.EqualFold(format, "json") {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	} else {
		handler = slog.NewTextHandler(os.Stdout, opts)
	}
	slog.SetDefault(slog.New(handler))
}

func parseLogLevel(level string) slog.Level {
	switch strings.ToLower(strings.TrimSpace(level)) {
	case "debug":
		return slog.LevelDebug
	case "warn", "warning":
		return slog.LevelWarn
	case "error":
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

// loadEnvironmentConfig loads configuration from environment variables and .env file
func loadEnvironmentConfig() Config {
	if err := godotenv.Load(); err != nil {
		slog.Debug("failed to load .env file", "error", err)
	} else {
		slog.Debug("successfully loaded .env file")
	}

	config := Config{
		ToolsBaseURL: os.Getenv("TOOLS_BASE_URL"),
		OpenAIKey:    os.Getenv("OPENAI_API_KEY"),
		OpenAIModel:  os.Getenv("OPENAI_MODEL"),
		OpenAIURL:    os.Getenv("OPENAI_BASE_URL"),
		APIAddr:      os.Getenv("API_ADDR"),
		DatabaseURL:  os.Getenv("DATABASE_URL"),
		StateDir:     os.Getenv("FLEETPIPE_STATE_DIR"),
		PromptsFile:  os.Getenv("PROMPTS_FILE"),
		InMemory:     util.ParseBoolEnv("FLEETPIPE_IN_MEMORY", false),
		GenAIDebug:   util.ParseBoolEnv("GENAI_DEBUG", false),
		GenAITimeout: util.ParseDurationEnv("GENAI_TIMEOUT", narrative.DefaultTimeout),
		ToolTimeout:  util.ParseDurationEnv("TOOL_TIMEOUT", tools.DefaultTimeout),
		TurnTimeout:  util.ParseDurationEnv("TURN_TIMEOUT", api.DefaultTurnTimeout),
		FanoutLimit:  util.ParseIntEnv("FANOUT_LIMIT", DefaultFanoutLimit),
		LogLevel:     os.Getenv("LOG_LEVEL"),
		LogFormat:    os.Getenv("LOG_FORMAT"),
	}

	if config.ToolsBaseURL == "" {
		config.ToolsBaseURL = DefaultToolsBaseURL
	}
	if config.OpenAIModel == "" {
		config.OpenAIModel = genai.DefaultModel
	}
	if config.StateDir == "" {
		config.StateDir = DefaultStateDir
	}
	// If no database URL is provided, default to SQLite in the state directory
	if config.DatabaseURL == "" {
		config.DatabaseURL = filepath.Join(config.StateDir, DefaultDBFileName)
	}

	slog.Debug("environment variables loaded",
		"TOOLS_BASE_URL", config.ToolsBaseURL,
		"OPENAI_API_KEY_SET", config.OpenAIKey != "",
		"OPENAI_MODEL", config.OpenAIModel,
		"API_ADDR", config.APIAddr,
		"DATABASE_URL_SET", config.DatabaseURL != "",
		"FLEETPIPE_STATE_DIR", config.StateDir,
		"PROMPTS_FILE", config.PromptsFile,
		"FANOUT_LIMIT", config.FanoutLimit)

	return config
}

// parseCommandLineFlags parses command line arguments with environment defaults
func parseCommandLineFlags(config Config) Flags {
	flags := Flags{
		toolsBaseURL: flag.String("tools-base-url", config.ToolsBaseURL, "tool service base URL (overrides $TOOLS_BASE_URL)"),
		openaiKey:    flag.String("openai-api-key", config.OpenAIKey, "OpenAI API key (overrides $OPENAI_API_KEY)"),
		openaiModel:  flag.String("openai-model", config.OpenAIModel, "OpenAI chat model (overrides $OPENAI_MODEL)"),
		openaiURL:    flag.String("openai-base-url", config.OpenAIURL, "OpenAI-compatible endpoint (overrides $OPENAI_BASE_URL)"),
		apiAddr:      flag.String("api-addr", config.APIAddr, "API server address (overrides $API_ADDR)"),
		dbDSN:        flag.String("db-dsn", config.DatabaseURL, "conversation store DSN, SQLite path or Postgres URL (overrides $DATABASE_URL)"),
		stateDir:     flag.String("state-dir", config.StateDir, "state directory for FleetPipe data (overrides $FLEETPIPE_STATE_DIR)"),
		promptsFile:  flag.String("prompts-file", config.PromptsFile, "YAML prompt pack (overrides $PROMPTS_FILE)"),
		inMemory:     flag.Bool("in-memory", config.InMemory, "keep conversations in memory only (overrides $FLEETPIPE_IN_MEMORY)"),
		genaiDebug:   flag.Bool("genai-debug", config.GenAIDebug, "log GenAI requests and responses (overrides $GENAI_DEBUG)"),
		genaiTimeout: flag.Duration("genai-timeout", config.GenAITimeout, "timeout per narrative generation (overrides $GENAI_TIMEOUT)"),
		toolTimeout:  flag.Duration("tool-timeout", config.ToolTimeout, "timeout per tool call (overrides $TOOL_TIMEOUT)"),
		turnTimeout:  flag.Duration("turn-timeout", config.TurnTimeout, "timeout per conversation turn (overrides $TURN_TIMEOUT)"),
		fanoutLimit:  flag.Int("fanout-limit", config.FanoutLimit, "concurrent tool calls in fleet-wide checks (overrides $FANOUT_LIMIT)"),
		debug:        flag.Bool("debug", false, "enable debug logging"),
	}

	flag.Parse()

	slog.Debug("flags parsed",
		"toolsBaseURL", *flags.toolsBaseURL,
		"openaiKeySet", *flags.openaiKey != "",
		"apiAddr", *flags.apiAddr,
		"dbDSN_set", *flags.dbDSN != "",
		"stateDir", *flags.stateDir,
		"inMemory", *flags.inMemory)

	// Follow a changed state directory when the DSN is still the default file
	if *flags.dbDSN == config.DatabaseURL && config.DatabaseURL == filepath.Join(config.StateDir, DefaultDBFileName) && *flags.stateDir != config.StateDir {
		*flags.dbDSN = filepath.Join(*flags.stateDir, DefaultDBFileName)
		slog.Debug("Updated dbDSN based on state directory", "old_state_dir", config.StateDir, "new_state_dir", *flags.stateDir)
	}

	return flags
}

// ensureDirectoriesExist creates the state directory for file-based storage
func ensureDirectoriesExist(flags Flags) error {
	if *flags.inMemory || store.DetectDSNType(*flags.dbDSN) == "postgres" {
		return nil
	}
	stateDir := filepath.Dir(*flags.dbDSN)
	slog.Debug("Creating state directory for file-based database", "state_dir", stateDir)
	if err := os.MkdirAll(stateDir, store.DefaultDirPermissions); err != nil {
		slog.Error("Failed to create state directory", "error", err, "state_dir", stateDir)
		return err
	}
	return nil
}

func storeKind(flags Flags) string {
	if *flags.inMemory {
		return "memory"
	}
	return store.DetectDSNType(*flags.dbDSN)
}

// openStore opens the conversation store selected by the flags
func openStore(flags Flags) (store.Store, error) {
	opts := buildStoreOptions(flags)
	switch storeKind(flags) {
	case "memory":
		return store.NewInMemoryStore(opts...)
	case "postgres":
		return store.NewPostgresStore(opts...)
	default:
		return store.NewSQLiteStore(opts...)
	}
}

// buildStoreOptions constructs store configuration options
func buildStoreOptions(flags Flags) []store.Option {
	var storeOpts []store.Option
	if *flags.inMemory || *flags.dbDSN == "" {
		slog.Debug("No database DSN provided, will use in-memory store")
		return storeOpts
	}
	if store.DetectDSNType(*flags.dbDSN) == "postgres" {
		slog.Debug("Detected PostgreSQL DSN, configuring PostgreSQL store", "dsn_type", "postgresql", "dsn_set", true)
		storeOpts = append(storeOpts, store.WithPostgresDSN(*flags.dbDSN))
	} else {
		slog.Debug("Detected SQLite DSN, configuring SQLite store", "dsn_type", "sqlite", "db_path", *flags.dbDSN)
		storeOpts = append(storeOpts, store.WithSQLiteDSN(*flags.dbDSN))
	}
	return storeOpts
}

// buildGenAIOptions constructs GenAI configuration options
func buildGenAIOptions(flags Flags) []genai.Option {
	var genaiOpts []genai.Option
	if *flags.openaiKey != "" {
		genaiOpts = append(genaiOpts, genai.WithAPIKey(*flags.openaiKey))
	}
	if *flags.openaiModel != "" {
		genaiOpts = append(genaiOpts, genai.WithModel(*flags.openaiModel))
	}
	if *flags.openaiURL != "" {
		genaiOpts = append(genaiOpts, genai.WithBaseURL(*flags.openaiURL))
	}
	if *flags.genaiDebug {
		genaiOpts = append(genaiOpts, genai.WithDebugMode(true), genai.WithStateDir(*flags.stateDir))
	}
	return genaiOpts
}

// buildNarrativeOptions constructs narrative engine options from flags and the prompt pack
func buildNarrativeOptions(flags Flags, pack *config.PromptPack) []narrative.Option {
	var opts []narrative.Option
	if *flags.genaiTimeout > 0 {
		opts = append(opts, narrative.WithTimeout(*flags.genaiTimeout))
	}
	if pack.SystemPrompt != "" {
		opts = append(opts, narrative.WithSystemPrompt(pack.SystemPrompt))
	}
	if len(pack.BranchTemplates) > 0 {
		opts = append(opts, narrative.WithBranchTemplates(pack.BranchTemplates))
	}
	return opts
}

// buildToolOptions constructs tool gateway options
func buildToolOptions(flags Flags) []tools.Option {
	var toolOpts []tools.Option
	if *flags.toolTimeout > 0 {
		toolOpts = append(toolOpts, tools.WithTimeout(*flags.toolTimeout))
	}
	return toolOpts
}

// buildAPIOptions constructs API server configuration options
func buildAPIOptions(flags Flags, health api.HealthChecker) []api.Option {
	apiOpts := []api.Option{api.WithHealthChecker(health)}
	if *flags.apiAddr != "" {
		apiOpts = append(apiOpts, api.WithAddr(*flags.apiAddr))
	}
	if *flags.turnTimeout > 0 {
		apiOpts = append(apiOpts, api.WithTurnTimeout(*flags.turnTimeout))
	}
	return apiOpts
}
