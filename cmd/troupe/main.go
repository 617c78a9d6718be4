// Package main is the entry point for the troupe CLI.
// Troupe is a persona engine for multi-character agents: it routes incoming
// turns to the best-fit persona, compiles character definitions into system
// prompts, and evolves personas and their relationships as they interact.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/muesli/termenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/normanking/troupe/internal/auth"
	"github.com/normanking/troupe/internal/bus"
	"github.com/normanking/troupe/internal/config"
	"github.com/normanking/troupe/internal/dash"
	"github.com/normanking/troupe/internal/engine"
	"github.com/normanking/troupe/internal/evolution"
	"github.com/normanking/troupe/internal/logging"
	"github.com/normanking/troupe/internal/persona"
	"github.com/normanking/troupe/internal/relationship"
	"github.com/normanking/troupe/internal/server"
	"github.com/normanking/troupe/internal/store"
)

var (
	version = "0.1.0"
	cfgPath string
	dataDir string
	verbose bool
	log     *logging.Logger
)

func main() {
	rootCmd := &cobra.Command{
		Use:   "troupe",
		Short: "Troupe - persona engine for multi-character agents",
		Long: `Troupe manages a cast of characters for AI agents:
  • Turn routing that picks the best-fit persona per message
  • Prompt compilation from layered framework + character definitions
  • Context-weighted framework blending
  • Persona evolution at interaction milestones
  • A relationship graph that shapes who answers whom

Start the gateway:        troupe serve
Open the dashboard:       troupe dash
Route a test message:     troupe route "who broke the build?"
Inspect a persona:        troupe personas show onyx`,
		PersistentPreRunE: initLogging,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDash()
		},
	}

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgPath, "config", "", "config file path (default ~/.troupe/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dataDir, "data", "", "data directory (default ~/.troupe)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Version command
	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("Troupe v%s\n", version)
		},
	})

	// Gateway server
	rootCmd.AddCommand(serveCmd())

	// Monitoring dashboard
	rootCmd.AddCommand(dashCmd())

	// One-shot routing and compilation
	rootCmd.AddCommand(routeCmd())
	rootCmd.AddCommand(compileCmd())

	// Persona inspection
	rootCmd.AddCommand(personasCmd())

	// Config command group
	rootCmd.AddCommand(configCmd())

	// API key management
	rootCmd.AddCommand(keysCmd())

	// State snapshots
	rootCmd.AddCommand(snapshotCmd())

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

// ═══════════════════════════════════════════════════════════════════════════════
// LOGGING INITIALIZATION
// ═══════════════════════════════════════════════════════════════════════════════

func initLogging(cmd *cobra.Command, args []string) error {
	logDir := filepath.Join(resolveDataDir(), "logs")
	if err := os.MkdirAll(logDir, 0755); err != nil {
		fmt.Fprintf(os.Stderr, "Warning: failed to create log directory: %v\n", err)
	}

	// Timestamped log file per session
	timestamp := time.Now().Format("2006-01-02_15-04-05")
	logFile := filepath.Join(logDir, fmt.Sprintf("troupe_%s.log", timestamp))

	var cfg *logging.Config
	if verbose {
		cfg = logging.VerboseConfig()
	} else {
		cfg = logging.DefaultConfig()
	}
	cfg.FilePath = logFile

	log = logging.New(cfg)
	logging.SetGlobal(log)

	log.Info("Troupe session started - logging to %s", logFile)

	if verbose {
		log.Debug("Verbose logging enabled")
		log.Debug("Config path: %s", configPath())
		log.Debug("Data dir: %s", resolveDataDir())
	}

	return nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// SHARED INITIALIZATION
// ═══════════════════════════════════════════════════════════════════════════════

func configPath() string {
	if cfgPath != "" {
		return cfgPath
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "config.yaml"
	}
	return filepath.Join(home, ".troupe", "config.yaml")
}

func resolveDataDir() string {
	if dataDir != "" {
		return dataDir
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "."
	}
	return filepath.Join(home, ".troupe")
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.LoadFromPath(configPath())
	if err != nil {
		return nil, err
	}
	if dataDir != "" {
		cfg.Storage.DataDir = dataDir
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// storeLogger builds the zerolog logger the state store writes through.
func storeLogger() zerolog.Logger {
	level := zerolog.WarnLevel
	if verbose {
		level = zerolog.DebugLevel
	}
	return zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr, TimeFormat: time.Kitchen}).
		Level(level).
		With().Timestamp().Logger()
}

// buildRegistry loads builtin definitions and merges the user's definitions
// directory on top. User files with a builtin's id replace the builtin.
func buildRegistry(cfg *config.Config) (*persona.Registry, error) {
	frameworks := persona.BuiltinFrameworks()
	characters := persona.BuiltinCharacters()

	loadedF, loadedC, diags := persona.LoadDir(cfg.Engine.DefinitionsDir)
	for _, d := range diags {
		log.Warn("Definition problem: %s", d)
	}
	frameworks = mergeFrameworks(frameworks, loadedF)
	characters = mergeCharacters(characters, loadedC)

	reg, err := persona.NewRegistry(frameworks, characters, cfg.Engine.DefaultFramework)
	if err != nil {
		return nil, fmt.Errorf("failed to build registry: %w", err)
	}
	for _, d := range reg.Diagnostics() {
		log.Warn("Definition rejected: %s", d)
	}
	return reg, nil
}

func mergeFrameworks(base, overrides []persona.Framework) []persona.Framework {
	index := make(map[string]int, len(base))
	for i, f := range base {
		index[f.ID] = i
	}
	for _, f := range overrides {
		if i, ok := index[f.ID]; ok {
			base[i] = f
			continue
		}
		index[f.ID] = len(base)
		base = append(base, f)
	}
	return base
}

func mergeCharacters(base, overrides []persona.Character) []persona.Character {
	index := make(map[string]int, len(base))
	for i, c := range base {
		index[c.ID] = i
	}
	for _, c := range overrides {
		if i, ok := index[c.ID]; ok {
			base[i] = c
			continue
		}
		index[c.ID] = len(base)
		base = append(base, c)
	}
	return base
}

// initializeEngine builds the full engine stack. When withStore is true the
// state store is opened and persisted snapshots are restored into the
// engine. The returned cleanup closes everything in reverse order.
func initializeEngine(withStore bool) (*engine.Engine, *bus.Bus, *store.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, nil, nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, nil, nil, err
	}

	reg, err := buildRegistry(cfg)
	if err != nil {
		return nil, nil, nil, nil, err
	}

	events := bus.New()

	eng, err := engine.New(cfg, reg, events, log)
	if err != nil {
		events.Close()
		return nil, nil, nil, nil, fmt.Errorf("failed to create engine: %w", err)
	}

	var st *store.Store
	if withStore {
		st, err = store.Open(cfg.GetDataDir(), storeLogger())
		if err != nil {
			events.Close()
			return nil, nil, nil, nil, fmt.Errorf("failed to open state store: %w", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		evo, err := st.LoadEvolution(ctx)
		if err != nil {
			log.Warn("Failed to load evolution state: %v", err)
		}
		rel, err := st.LoadRelationships(ctx)
		if err != nil {
			log.Warn("Failed to load relationship state: %v", err)
		}
		if len(evo) > 0 || len(rel) > 0 {
			eng.Restore(evo, rel)
			log.Info("Restored state: %d personas, %d relationship edges", len(evo), len(rel))
		}
	}

	cleanup := func() {
		if st != nil {
			if err := st.Close(); err != nil {
				log.Warn("Failed to close store: %v", err)
			}
		}
		events.Close()
	}
	return eng, events, st, cleanup, nil
}

// openStore opens just the state store, for commands that do not need a
// running engine.
func openStore() (*store.Store, func(), error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	if err := cfg.EnsureDirectories(); err != nil {
		return nil, nil, err
	}

	st, err := store.Open(cfg.GetDataDir(), storeLogger())
	if err != nil {
		return nil, nil, fmt.Errorf("failed to open state store: %w", err)
	}
	cleanup := func() {
		if err := st.Close(); err != nil {
			log.Warn("Failed to close store: %v", err)
		}
	}
	return st, cleanup, nil
}

// ═══════════════════════════════════════════════════════════════════════════════
// SERVE COMMAND (GATEWAY)
// ═══════════════════════════════════════════════════════════════════════════════

func serveCmd() *cobra.Command {
	var host string
	var port int
	var authRequired bool
	var noStore bool

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the HTTP + WebSocket gateway",
		Long: `Run the troupe gateway.

The gateway exposes the engine over HTTP (turn routing, prompt compilation,
persona and relationship inspection) and streams engine events over a
WebSocket at /v1/ws. Engine state is restored from the SQLite store on
startup and snapshotted back on an interval.

With --auth, every /v1/ endpoint requires an API key issued by
'troupe keys new'. The health check at /healthz stays open.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runServe(cmd, host, port, authRequired, noStore)
		},
	}

	cmd.Flags().StringVar(&host, "host", "", "bind address (default from config)")
	cmd.Flags().IntVarP(&port, "port", "p", 0, "port (default from config)")
	cmd.Flags().BoolVar(&authRequired, "auth", false, "require API keys on /v1/ endpoints")
	cmd.Flags().BoolVar(&noStore, "no-store", false, "run without persistence")

	return cmd
}

func runServe(cmd *cobra.Command, host string, port int, authRequired, noStore bool) error {
	eng, events, st, cleanup, err := initializeEngine(!noStore)
	if err != nil {
		return err
	}
	defer cleanup()

	appCfg, err := loadConfig()
	if err != nil {
		return err
	}

	srvCfg := server.DefaultConfig()
	srvCfg.Host = appCfg.Server.Host
	srvCfg.Port = appCfg.Server.Port
	srvCfg.AuthRequired = appCfg.Server.AuthRequired
	srvCfg.SnapshotInterval = appCfg.Storage.SnapshotInterval
	srvCfg.Version = version
	if host != "" {
		srvCfg.Host = host
	}
	if port != 0 {
		srvCfg.Port = port
	}
	if cmd.Flags().Changed("auth") {
		srvCfg.AuthRequired = authRequired
	}

	var authSvc *auth.Service
	if st != nil {
		authSvc = auth.NewService(auth.NewStore(st.DB()), nil)
	}
	if srvCfg.AuthRequired && authSvc == nil {
		return fmt.Errorf("--auth requires the state store; remove --no-store")
	}

	srv, err := server.New(srvCfg, eng, events, st, authSvc, log)
	if err != nil {
		return fmt.Errorf("failed to create server: %w", err)
	}

	if err := srv.Start(); err != nil {
		return fmt.Errorf("failed to start server: %w", err)
	}

	stats := eng.Stats()
	fmt.Printf("\n⬡ Troupe Gateway\n")
	fmt.Printf("  URL:       http://%s\n", srv.Addr())
	fmt.Printf("  Personas:  %d (%d frameworks)\n", stats.Personas, stats.Frameworks)
	fmt.Printf("  Auth:      %s\n", onOff(srvCfg.AuthRequired))
	fmt.Printf("  Store:     %s\n", func() string {
		if st == nil {
			return "disabled"
		}
		return appCfg.GetDataDir()
	}())
	fmt.Printf("\nPress Ctrl+C to stop...\n")

	// Wait for interrupt signal
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)
	<-sigChan

	fmt.Println("\nShutting down...")
	if err := srv.Stop(); err != nil {
		log.Error("Shutdown error: %v", err)
		return err
	}

	log.Info("Gateway stopped gracefully")
	return nil
}

func onOff(b bool) string {
	if b {
		return "on"
	}
	return "off"
}

// ═══════════════════════════════════════════════════════════════════════════════
// DASH COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func dashCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "dash",
		Short: "Open the terminal dashboard",
		Long: `Open the troupe terminal dashboard.

The dashboard loads persisted engine state and shows the persona roster,
a live engine event feed, and the relationship matrix. Press enter on a
persona to preview its compiled prompt.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDash()
		},
	}
}

func runDash() error {
	eng, events, _, cleanup, err := initializeEngine(true)
	if err != nil {
		return err
	}
	defer cleanup()

	// Force TrueColor so themed backgrounds render consistently.
	lipgloss.SetColorProfile(termenv.TrueColor)

	return dash.Run(&dash.Config{Source: eng, Events: events})
}

// ═══════════════════════════════════════════════════════════════════════════════
// ROUTE COMMAND (ONE-SHOT SELECTION)
// ═══════════════════════════════════════════════════════════════════════════════

func routeCmd() *cobra.Command {
	var channel string
	var contextType string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "route [message]",
		Short: "Route a message and show which persona answers",
		Long: `Route a message through persona selection without generating anything.

Examples:
  troupe route "why is the deploy stuck?"
  troupe route --channel dev "can someone review my branch?"
  troupe route --context debugging "this stack trace makes no sense"`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			content := strings.Join(args, " ")

			eng, _, _, cleanup, err := initializeEngine(true)
			if err != nil {
				return err
			}
			defer cleanup()

			res, err := eng.HandleTurn(engine.TurnRequest{
				Content:     content,
				ChannelID:   channel,
				ContextType: contextType,
			})
			if err != nil {
				return fmt.Errorf("selection failed: %w", err)
			}

			if jsonOut {
				return printJSON(res)
			}

			fmt.Printf("%s %s\n", labelStyle.Render("Persona:"), res.Persona.Name)
			fmt.Printf("%s %s\n", labelStyle.Render("ID:"), res.Persona.ID)
			fmt.Printf("%s %s\n", labelStyle.Render("Reason:"), res.Reason)
			fmt.Printf("%s %.2f (of %d candidates)\n", labelStyle.Render("Score:"), res.Score, res.Candidates)
			if res.Blended {
				fmt.Printf("%s %s\n", labelStyle.Render("Blend:"), res.Persona.BlendSignature)
			}
			return nil
		},
	}

	cmd.Flags().StringVarP(&channel, "channel", "c", "cli", "channel id for sticky routing")
	cmd.Flags().StringVar(&contextType, "context", "", "context type (requests a blended persona)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the full result as JSON")

	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// COMPILE COMMAND
// ═══════════════════════════════════════════════════════════════════════════════

func compileCmd() *cobra.Command {
	var contextType string
	var contextData []string
	var jsonOut bool

	cmd := &cobra.Command{
		Use:   "compile [character]",
		Short: "Compile a character into its system prompt",
		Long: `Compile a character definition into a full system prompt.

With --context the prompt is compiled against a blended framework for that
context. Repeat --set to pass context data into the blend weighting.

Examples:
  troupe compile onyx
  troupe compile onyx --context debugging
  troupe compile spark --context banter --set mood=chaotic`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			characterID := args[0]

			eng, _, _, cleanup, err := initializeEngine(true)
			if err != nil {
				return err
			}
			defer cleanup()

			var cp *persona.CompiledPersona
			if contextType != "" {
				cp = eng.BlendFor(characterID, contextType, parseKeyValues(contextData))
				if cp == nil {
					return fmt.Errorf("no blend available for character %q in context %q", characterID, contextType)
				}
			} else {
				var ok bool
				cp, ok = eng.Persona(characterID)
				if !ok {
					return fmt.Errorf("unknown character %q", characterID)
				}
			}

			if jsonOut {
				return printJSON(cp)
			}

			fmt.Println(headingStyle.Render(fmt.Sprintf("%s (%s)", cp.Name, cp.ID)))
			fmt.Printf("%s temperature=%.2f verbosity=%.2f formality=%.2f\n",
				labelStyle.Render("Voice:"), cp.Params.Temperature, cp.Params.Verbosity, cp.Params.Formality)
			if len(cp.Capabilities) > 0 {
				fmt.Printf("%s %s\n", labelStyle.Render("Capabilities:"), strings.Join(cp.Capabilities, ", "))
			}
			if cp.BlendSignature != "" {
				fmt.Printf("%s %s\n", labelStyle.Render("Blend:"), cp.BlendSignature)
			}
			fmt.Println()
			fmt.Println(cp.Prompt)
			return nil
		},
	}

	cmd.Flags().StringVar(&contextType, "context", "", "context type for a blended compilation")
	cmd.Flags().StringArrayVar(&contextData, "set", nil, "context data as key=value (repeatable)")
	cmd.Flags().BoolVar(&jsonOut, "json", false, "print the compiled persona as JSON")

	return cmd
}

func parseKeyValues(pairs []string) map[string]string {
	if len(pairs) == 0 {
		return nil
	}
	out := make(map[string]string, len(pairs))
	for _, pair := range pairs {
		if idx := strings.Index(pair, "="); idx > 0 {
			out[strings.TrimSpace(pair[:idx])] = strings.TrimSpace(pair[idx+1:])
		}
	}
	return out
}

// ═══════════════════════════════════════════════════════════════════════════════
// PERSONAS COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func personasCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:     "personas",
		Aliases: []string{"p"},
		Short:   "Inspect the loaded cast",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List loaded characters",
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, _, cleanup, err := initializeEngine(true)
			if err != nil {
				return err
			}
			defer cleanup()

			personas := eng.Personas()
			ids := make([]string, 0, len(personas))
			for id := range personas {
				ids = append(ids, id)
			}
			sort.Strings(ids)

			evo := make(map[string]int)
			for _, st := range eng.EvolutionSnapshot() {
				evo[st.PersonaID] = st.Count
			}

			fmt.Printf("Loaded %d personas:\n\n", len(ids))
			for _, id := range ids {
				cp := personas[id]
				fmt.Printf("  %s %s\n", headingStyle.Render(cp.Name), dimStyle.Render("("+cp.ID+")"))
				fmt.Printf("      weight %.2f | turns %d | domain %s\n",
					cp.Weight, evo[cp.CharacterID], valueOr(cp.KnowledgeDomain, "none"))
				if len(cp.Interests) > 0 {
					fmt.Printf("      interests: %s\n", strings.Join(cp.Interests, ", "))
				}
				fmt.Println()
			}

			stats := eng.Stats()
			if stats.Diagnostics > 0 {
				fmt.Printf("%d definition problems; run with -v for details.\n", stats.Diagnostics)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "show [character]",
		Short: "Show one character in detail",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			eng, _, _, cleanup, err := initializeEngine(true)
			if err != nil {
				return err
			}
			defer cleanup()

			characterID := args[0]
			c, ok := eng.Character(characterID)
			if !ok {
				return fmt.Errorf("unknown character %q", characterID)
			}
			cp, _ := eng.Persona(characterID)

			fmt.Println(headingStyle.Render(c.Name) + " " + dimStyle.Render("("+c.ID+")"))
			fmt.Printf("%s %s\n", labelStyle.Render("Framework:"), c.BaseFramework)
			fmt.Printf("%s %.2f\n", labelStyle.Render("Weight:"), c.Weight)
			if len(c.Traits) > 0 {
				fmt.Printf("%s %s\n", labelStyle.Render("Traits:"), strings.Join(c.Traits, ", "))
			}
			if len(c.Quirks) > 0 {
				fmt.Printf("%s %s\n", labelStyle.Render("Quirks:"), strings.Join(c.Quirks, ", "))
			}
			if len(c.EvolutionStages) > 0 {
				milestones := make([]string, 0, len(c.EvolutionStages))
				for _, stage := range c.EvolutionStages {
					milestones = append(milestones, fmt.Sprintf("%d", stage.Milestone))
				}
				fmt.Printf("%s at turns %s\n", labelStyle.Render("Evolves:"), strings.Join(milestones, ", "))
			}
			for _, st := range eng.EvolutionSnapshot() {
				if st.PersonaID == c.ID {
					fmt.Printf("%s %d turns, highest milestone %d\n",
						labelStyle.Render("Progress:"), st.Count, st.HighestMilestone)
				}
			}
			if cp != nil {
				fmt.Printf("%s %d chars, compiled %s\n", labelStyle.Render("Prompt:"),
					len(cp.Prompt), cp.CompiledAt.Format(time.RFC3339))
			}
			return nil
		},
	})

	return cmd
}

func valueOr(s, fallback string) string {
	if s == "" {
		return fallback
	}
	return s
}

// ═══════════════════════════════════════════════════════════════════════════════
// CONFIG COMMANDS
// ═══════════════════════════════════════════════════════════════════════════════

func configCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Manage configuration",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Show effective configuration",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			fmt.Println("Troupe Configuration:")
			fmt.Println("─────────────────────")
			fmt.Printf("Data dir:          %s\n", cfg.GetDataDir())
			fmt.Printf("Definitions dir:   %s\n", cfg.Engine.DefinitionsDir)
			fmt.Printf("Default persona:   %s\n", cfg.Engine.DefaultPersona)
			fmt.Printf("Default framework: %s\n", cfg.Engine.DefaultFramework)
			fmt.Printf("Sticky window:     %s\n", cfg.Router.StickyWindow)
			fmt.Printf("Blend cache TTL:   %s\n", cfg.Blend.CacheTTL)
			fmt.Printf("Snapshot interval: %s\n", cfg.Storage.SnapshotInterval)
			fmt.Printf("Gateway:           %s:%d (auth %s)\n",
				cfg.Server.Host, cfg.Server.Port, onOff(cfg.Server.AuthRequired))
			fmt.Printf("Log level:         %s\n", cfg.Logging.Level)
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "path",
		Short: "Show configuration file path",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println(configPath())
		},
	})

	var force bool
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a default configuration file",
		RunE: func(cmd *cobra.Command, args []string) error {
			path := configPath()
			if _, err := os.Stat(path); err == nil && !force {
				return fmt.Errorf("config already exists at %s (use --force to overwrite)", path)
			}
			if err := config.Default().SaveToPath(path); err != nil {
				return err
			}
			fmt.Printf("✅ Wrote default config to %s\n", path)
			return nil
		},
	}
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing config file")
	cmd.AddCommand(initCmd)

	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// KEYS COMMANDS (GATEWAY API KEYS)
// ═══════════════════════════════════════════════════════════════════════════════

func keysCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "keys",
		Short: "Manage gateway API keys",
	}

	cmd.AddCommand(&cobra.Command{
		Use:   "new [name]",
		Short: "Issue a new API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cleanup, err := openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			svc := auth.NewService(auth.NewStore(st.DB()), nil)
			plaintext, key, err := svc.Issue(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to issue key: %w", err)
			}

			fmt.Printf("✅ Issued API key %q (%s)\n\n", key.Name, key.ID)
			fmt.Printf("  %s\n\n", plaintext)
			fmt.Println("Store this key now. It cannot be shown again.")
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "list",
		Short: "List issued API keys",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cleanup, err := openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			svc := auth.NewService(auth.NewStore(st.DB()), nil)
			keys, err := svc.Keys(context.Background())
			if err != nil {
				return fmt.Errorf("failed to list keys: %w", err)
			}

			if len(keys) == 0 {
				fmt.Println("No API keys issued. Create one with: troupe keys new <name>")
				return nil
			}

			fmt.Printf("Found %d keys:\n\n", len(keys))
			for _, k := range keys {
				status := "active"
				if k.Revoked {
					status = "revoked"
				}
				lastUsed := "never"
				if k.LastUsedAt != nil {
					lastUsed = k.LastUsedAt.Local().Format("2006-01-02 15:04")
				}
				fmt.Printf("  [%s] %s\n", status, k.Name)
				fmt.Printf("       ID: %s | Created: %s | Last used: %s\n\n",
					k.ID, k.CreatedAt.Local().Format("2006-01-02"), lastUsed)
			}
			return nil
		},
	})

	cmd.AddCommand(&cobra.Command{
		Use:   "revoke [id-or-name]",
		Short: "Revoke an API key",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cleanup, err := openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			svc := auth.NewService(auth.NewStore(st.DB()), nil)
			key, err := svc.Revoke(context.Background(), args[0])
			if err != nil {
				return fmt.Errorf("failed to revoke key: %w", err)
			}
			fmt.Printf("✅ Revoked key %q (%s)\n", key.Name, key.ID)
			return nil
		},
	})

	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// SNAPSHOT COMMANDS (STATE EXPORT / IMPORT)
// ═══════════════════════════════════════════════════════════════════════════════

// stateSnapshot is the JSON document snapshot export/import exchanges.
type stateSnapshot struct {
	ExportedAt    time.Time                `json:"exported_at"`
	Version       string                   `json:"version"`
	Evolution     []evolution.PersonaState `json:"evolution"`
	Relationships []relationship.Entry     `json:"relationships"`
}

func snapshotCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "snapshot",
		Short: "Export or import persisted engine state",
	}

	var out string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "Export evolution and relationship state as JSON",
		RunE: func(cmd *cobra.Command, args []string) error {
			st, cleanup, err := openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			evo, err := st.LoadEvolution(ctx)
			if err != nil {
				return fmt.Errorf("failed to load evolution state: %w", err)
			}
			rel, err := st.LoadRelationships(ctx)
			if err != nil {
				return fmt.Errorf("failed to load relationship state: %w", err)
			}

			doc := stateSnapshot{
				ExportedAt:    time.Now().UTC(),
				Version:       version,
				Evolution:     evo,
				Relationships: rel,
			}
			data, err := json.MarshalIndent(doc, "", "  ")
			if err != nil {
				return err
			}
			data = append(data, '\n')

			if out == "" || out == "-" {
				_, err = os.Stdout.Write(data)
				return err
			}
			if err := os.WriteFile(out, data, 0644); err != nil {
				return fmt.Errorf("failed to write snapshot: %w", err)
			}
			fmt.Printf("✅ Exported %d persona states and %d relationship edges to %s\n",
				len(evo), len(rel), out)
			return nil
		},
	}
	exportCmd.Flags().StringVarP(&out, "out", "o", "", "output file (default stdout)")
	cmd.AddCommand(exportCmd)

	cmd.AddCommand(&cobra.Command{
		Use:   "import [file]",
		Short: "Import a previously exported snapshot",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			data, err := os.ReadFile(args[0])
			if err != nil {
				return fmt.Errorf("failed to read snapshot: %w", err)
			}

			var doc stateSnapshot
			if err := json.Unmarshal(data, &doc); err != nil {
				return fmt.Errorf("invalid snapshot file: %w", err)
			}
			evo, rel := doc.Evolution, doc.Relationships

			st, cleanup, err := openStore()
			if err != nil {
				return err
			}
			defer cleanup()

			ctx := context.Background()
			if err := st.SaveEvolution(ctx, evo); err != nil {
				return fmt.Errorf("failed to import evolution state: %w", err)
			}
			if err := st.SaveRelationships(ctx, rel); err != nil {
				return fmt.Errorf("failed to import relationship state: %w", err)
			}

			fmt.Printf("✅ Imported %d persona states and %d relationship edges\n",
				len(evo), len(rel))
			return nil
		},
	})

	return cmd
}

// ═══════════════════════════════════════════════════════════════════════════════
// OUTPUT HELPERS
// ═══════════════════════════════════════════════════════════════════════════════

var (
	headingStyle = lipgloss.NewStyle().Bold(true).Foreground(lipgloss.Color("#7C3AED"))
	labelStyle   = lipgloss.NewStyle().Bold(true)
	dimStyle     = lipgloss.NewStyle().Foreground(lipgloss.Color("#71717A"))
)

func printJSON(v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(data))
	return nil
}
