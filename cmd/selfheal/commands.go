package main

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/cobra"

	"github.com/hochfrequenz/selfheal/internal/analyzer"
	"github.com/hochfrequenz/selfheal/internal/broadcast"
	"github.com/hochfrequenz/selfheal/internal/classifier"
	"github.com/hochfrequenz/selfheal/internal/config"
	"github.com/hochfrequenz/selfheal/internal/domain"
	"github.com/hochfrequenz/selfheal/internal/logsource"
	"github.com/hochfrequenz/selfheal/internal/notify"
	"github.com/hochfrequenz/selfheal/internal/orchestrator"
	"github.com/hochfrequenz/selfheal/internal/patterns"
	"github.com/hochfrequenz/selfheal/internal/sessionstore"
	"github.com/hochfrequenz/selfheal/internal/worktree"
	"github.com/hochfrequenz/selfheal/tui"
	"github.com/hochfrequenz/selfheal/web/api"
)

var (
	servePort    int
	listStatus   string
	listPipeline string
	serverURL    string
)

func init() {
	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the debug engine with its HTTP API",
		RunE:  runServe,
	}
	serveCmd.Flags().IntVar(&servePort, "port", 0, "port to listen on (overrides config)")
	rootCmd.AddCommand(serveCmd)

	analyzeCmd := &cobra.Command{
		Use:   "analyze LOGFILE",
		Short: "Classify a pipeline log offline",
		Args:  cobra.ExactArgs(1),
		RunE:  runAnalyze,
	}
	rootCmd.AddCommand(analyzeCmd)

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List debug sessions",
		RunE:  runList,
	}
	listCmd.Flags().StringVar(&listStatus, "status", "", "filter by status")
	listCmd.Flags().StringVar(&listPipeline, "pipeline", "", "filter by pipeline")
	rootCmd.AddCommand(listCmd)

	patternsCmd := &cobra.Command{
		Use:   "patterns",
		Short: "List the error pattern library",
		RunE:  runPatterns,
	}
	rootCmd.AddCommand(patternsCmd)

	tuiCmd := &cobra.Command{
		Use:   "tui",
		Short: "Launch the session watcher TUI",
		RunE:  runTUI,
	}
	tuiCmd.Flags().StringVar(&serverURL, "server", "", "selfheal API base URL (default from config)")
	rootCmd.AddCommand(tuiCmd)
}

func loadConfig() (*config.Config, error) {
	return config.LoadWithLocalFallback(configPath)
}

// buildLibrary loads the builtin patterns plus the configured catalog
func buildLibrary(cfg *config.Config) (*patterns.Library, error) {
	library := patterns.Default()
	if cfg.General.PatternCatalogPath != "" {
		if err := library.LoadCatalog(cfg.General.PatternCatalogPath); err != nil {
			return nil, fmt.Errorf("loading pattern catalog: %w", err)
		}
	}
	return library, nil
}

// buildAdapter creates the classifier adapter, or nil when disabled
func buildAdapter(cfg *config.Config) (classifier.Adapter, error) {
	if !cfg.Classifier.Enabled {
		return nil, nil
	}
	key := cfg.Classifier.APIKey()
	if key == "" {
		fmt.Fprintf(os.Stderr, "warning: %s not set, running without model classification\n", cfg.Classifier.APIKeyEnv)
		return nil, nil
	}
	return classifier.NewOpenAIAdapter(classifier.OpenAIOptions{
		APIKey:         key,
		BaseURL:        cfg.Classifier.BaseURL,
		Model:          cfg.Classifier.Model,
		Timeout:        cfg.Classifier.Timeout(),
		RequestsPerMin: int(cfg.Classifier.RequestsPerSec * 60),
	})
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	if err := os.MkdirAll(filepath.Dir(cfg.General.DatabasePath), 0755); err != nil {
		return err
	}
	store, err := sessionstore.New(cfg.General.DatabasePath)
	if err != nil {
		return fmt.Errorf("opening session store: %w", err)
	}
	defer store.Close()

	library, err := buildLibrary(cfg)
	if err != nil {
		return err
	}
	adapter, err := buildAdapter(cfg)
	if err != nil {
		return err
	}

	root := cfg.General.ProjectRoot
	if root == "" {
		if root, err = os.Getwd(); err != nil {
			return err
		}
	}
	tree, err := worktree.NewDir(root, cfg.General.SnapshotDir)
	if err != nil {
		return fmt.Errorf("opening working tree: %w", err)
	}
	trees := orchestrator.TreeProviderFunc(func(string) (worktree.Accessor, error) {
		return tree, nil
	})

	var logs orchestrator.LogSource
	if cfg.Watch.Dir != "" {
		logs = logsource.NewDirSource(cfg.Watch.Dir)
	}

	hub := broadcast.NewHub(cfg.Events.RingSize, cfg.Events.QueueSize, store)
	orch := orchestrator.New(cfg, store, hub, library, adapter, trees, logs)
	orch.SetNotifier(notify.NewMultiNotifier(
		notify.NewDesktopNotifier(cfg.Notify.Desktop),
		notify.NewSlackNotifier(cfg.Notify.SlackWebhook),
	))
	if err := orch.Start(); err != nil {
		return err
	}
	defer orch.Stop()

	// Dropped log files become sessions automatically.
	if cfg.Watch.Enabled && cfg.Watch.Dir != "" {
		watcher, err := logsource.NewDropWatcher(cfg.Watch.Dir, cfg.Watch.Pattern, func(pipelineID, rawLog string) {
			ctx := context.Background()
			sess, err := orch.CreateSession(ctx, pipelineID, rawLog)
			if err != nil {
				fmt.Fprintf(os.Stderr, "creating session for %s: %v\n", pipelineID, err)
				return
			}
			go func() {
				if err := orch.RunSession(ctx, sess.ID); err != nil {
					fmt.Fprintf(os.Stderr, "running session %s: %v\n", sess.ID, err)
				}
			}()
		})
		if err != nil {
			return fmt.Errorf("watching %s: %w", cfg.Watch.Dir, err)
		}
		watcher.Start(context.Background())
		defer watcher.Stop()
		fmt.Printf("Watching %s for dropped logs\n", cfg.Watch.Dir)
	}

	port := servePort
	if port == 0 {
		port = cfg.Web.Port
	}
	addr := fmt.Sprintf("%s:%d", cfg.Web.Host, port)
	server := api.NewServer(orch, store, hub, addr)

	fmt.Printf("Listening on http://%s\n", addr)
	return server.Start()
}

func runAnalyze(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	library, err := buildLibrary(cfg)
	if err != nil {
		return err
	}
	adapter, err := buildAdapter(cfg)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(args[0])
	if err != nil {
		return err
	}

	a := analyzer.New(library, adapter)
	errors, err := a.Analyze(cmd.Context(), "offline", string(data))
	if err != nil {
		return err
	}

	if len(errors) == 0 {
		fmt.Println("No errors detected")
		return nil
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "CATEGORY\tSEVERITY\tCONF\tFIXABLE\tLOCATION\tMESSAGE")
	for _, e := range errors {
		loc := ""
		if e.Location != nil {
			loc = e.Location.String()
		}
		fmt.Fprintf(w, "%s\t%s\t%.2f\t%v\t%s\t%s\n",
			e.Category, e.Severity, e.Confidence, e.AutoFixable, loc, e.Message)
	}
	return w.Flush()
}

func runList(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	store, err := sessionstore.New(cfg.General.DatabasePath)
	if err != nil {
		return err
	}
	defer store.Close()

	sessions, err := store.ListSessions(sessionstore.ListOptions{
		PipelineID: listPipeline,
		Status:     domain.SessionStatus(listStatus),
	})
	if err != nil {
		return err
	}

	// ListSessions returns bare rows; counts come from a separate query.
	counts, err := store.CountChildren()
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tPIPELINE\tSTATUS\tERRORS\tPATCHES\tCREATED")
	for _, s := range sessions {
		c := counts[s.ID]
		fmt.Fprintf(w, "%s\t%s\t%s\t%d\t%d\t%s\n",
			s.ID, s.PipelineID, s.Status, c.Errors, c.Patches,
			s.CreatedAt.Format("2006-01-02 15:04"))
	}
	return w.Flush()
}

func runPatterns(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	library, err := buildLibrary(cfg)
	if err != nil {
		return err
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "NAME\tCATEGORY\tSEVERITY\tFIXABLE\tREGEX")
	for _, p := range library.All() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%v\t%s\n",
			p.Name, p.Category, p.Severity, p.AutoFixable, p.Regex())
	}
	return w.Flush()
}

func runTUI(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}

	base := serverURL
	if base == "" {
		base = fmt.Sprintf("http://%s:%d", cfg.Web.Host, cfg.Web.Port)
	}
	client := newAPIClient(base)

	model := tui.NewModel(tui.ModelConfig{
		Sessions: client.fetchSessions(),
		Refresh:  client.fetchSessions,
	})

	p := tea.NewProgram(model, tea.WithAltScreen())
	go client.streamEvents(p)

	_, err = p.Run()
	return err
}
