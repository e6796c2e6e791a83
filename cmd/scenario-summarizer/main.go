// Command scenario-summarizer compresses long role-play chats into rolling
// summaries and keeps the injected memory block up to date.
package main

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	anyllmlib "github.com/mozilla-ai/any-llm-go"
	"github.com/spf13/cobra"

	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/app"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/config"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/host"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/internal/observe"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/provider/llm"
	"github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/provider/llm/anyllm"
	oaillm "github.com/NovaCaso01/Scenario-Summarizer-sub001/pkg/provider/llm/openai"
)

// configEnv overrides the default config path.
const configEnv = "SCENARIO_SUMMARIZER_CONFIG"

var (
	configPath    string
	chatPath      string
	chatID        string
	injectionFile string
	formatFlag    string
)

var rootCmd = &cobra.Command{
	Use:           "scenario-summarizer",
	Short:         "Rolling scenario summaries for long role-play chats",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVarP(&configPath, "config", "c", "", "YAML config file (default: $"+configEnv+" or config.yaml)")
	pf.StringVar(&chatPath, "chat", "", "JSONL chat file")
	pf.StringVar(&chatID, "chat-id", "", "metadata key of the chat (default: chat file name)")
	pf.StringVar(&injectionFile, "injection-file", "", "also write the injected memory block to this file")
	pf.StringVarP(&formatFlag, "format", "f", "text", "output format: text or json")
}

func main() {
	os.Exit(run())
}

func run() int {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "scenario-summarizer: %v\n", err)
		return 1
	}
	return 0
}

// ── Config and logger ────────────────────────────────────────────────────────

// loadConfig reads the config file. A missing default file yields the
// built-in defaults; a missing file named by flag or environment is an error.
func loadConfig() (*config.Config, string, error) {
	path, explicit := configPath, configPath != ""
	if !explicit {
		if env := os.Getenv(configEnv); env != "" {
			path, explicit = env, true
		} else {
			path = "config.yaml"
		}
	}
	cfg, err := config.Load(path)
	switch {
	case err == nil:
		return cfg, path, nil
	case errors.Is(err, fs.ErrNotExist) && !explicit:
		return config.Default(), "", nil
	default:
		return nil, "", err
	}
}

// newLogger builds the process logger. The level var lets a config reload
// change verbosity in watch mode.
func newLogger(sc config.ServerConfig) (*slog.Logger, *slog.LevelVar) {
	lvl := new(slog.LevelVar)
	lvl.Set(app.LevelOf(sc.LogLevel))
	opts := &slog.HandlerOptions{Level: lvl}
	if sc.LogFormat == config.LogFormatJSON {
		return slog.New(slog.NewJSONHandler(os.Stderr, opts)), lvl
	}
	return slog.New(slog.NewTextHandler(os.Stderr, opts)), lvl
}

// ── Provider wiring ──────────────────────────────────────────────────────────

// registerBuiltinProviders wires every bundled model backend into reg.
// "openai" uses the official SDK; everything else goes through any-llm-go.
func registerBuiltinProviders(reg *config.Registry) {
	reg.RegisterLLM("openai", func(entry config.ProviderEntry) (llm.Provider, error) {
		var opts []oaillm.Option
		if entry.BaseURL != "" {
			opts = append(opts, oaillm.WithBaseURL(entry.BaseURL))
		}
		if org := optString(entry.Options, "organization"); org != "" {
			opts = append(opts, oaillm.WithOrganization(org))
		}
		if enc := optString(entry.Options, "encoding"); enc != "" {
			opts = append(opts, oaillm.WithEncoding(enc))
		}
		if d, err := time.ParseDuration(optString(entry.Options, "timeout")); err == nil {
			opts = append(opts, oaillm.WithTimeout(d))
		}
		apiKey := entry.APIKey
		if apiKey == "" {
			apiKey = os.Getenv("OPENAI_API_KEY")
		}
		return oaillm.New(apiKey, entry.Model, opts...)
	})

	for _, name := range anyllm.Supported() {
		if name == "openai" {
			continue
		}
		reg.RegisterLLM(name, func(entry config.ProviderEntry) (llm.Provider, error) {
			var opts []anyllmlib.Option
			if entry.APIKey != "" {
				opts = append(opts, anyllmlib.WithAPIKey(entry.APIKey))
			}
			if entry.BaseURL != "" {
				opts = append(opts, anyllmlib.WithBaseURL(entry.BaseURL))
			}
			return anyllm.New(name, entry.Model, opts...)
		})
	}
	slog.Debug("registered providers", "llm", reg.LLMNames())
}

// ── App construction ─────────────────────────────────────────────────────────

// session is one opened chat with its config and logger.
type session struct {
	*app.App
	cfg     *config.Config
	cfgPath string
	logger  *slog.Logger
	level   *slog.LevelVar
}

// openSession loads the config, opens the chat named by --chat and wires
// the application. Extra options are appended after the defaults.
func openSession(ctx context.Context, extra ...app.Option) (*session, error) {
	cfg, path, err := loadConfig()
	if err != nil {
		return nil, err
	}
	logger, level := newLogger(cfg.Server)
	slog.SetDefault(logger)

	if chatPath == "" {
		return nil, errors.New("--chat is required")
	}
	var hostOpts []host.FileHostOption
	if chatID != "" {
		hostOpts = append(hostOpts, host.WithChatID(chatID))
	}
	if injectionFile != "" {
		hostOpts = append(hostOpts, host.WithInjectionFile(injectionFile))
	}

	reg := config.NewRegistry()
	registerBuiltinProviders(reg)

	opts := []app.Option{
		app.WithLogger(logger),
		app.WithLevel(level),
		app.WithRegistry(reg),
		app.WithChatFile(chatPath, hostOpts...),
	}
	a, err := app.New(ctx, cfg, append(opts, extra...)...)
	if err != nil {
		return nil, err
	}
	return &session{App: a, cfg: cfg, cfgPath: path, logger: logger, level: level}, nil
}

// close shuts the application down with a bounded deadline.
func (s *session) close() {
	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := s.Shutdown(ctx); err != nil {
		s.logger.Error("shutdown error", "err", err)
	}
}

// withSession opens a session around fn and closes it afterwards.
func withSession(fn func(cmd *cobra.Command, args []string, s *session) error) func(*cobra.Command, []string) error {
	return func(cmd *cobra.Command, args []string) error {
		s, err := openSession(cmd.Context())
		if err != nil {
			return err
		}
		defer s.close()
		return fn(cmd, args, s)
	}
}

// ── Telemetry ────────────────────────────────────────────────────────────────

// initTelemetry installs the OTel providers and returns the instruments
// bound to them.
func initTelemetry(ctx context.Context) (*observe.Metrics, func(context.Context) error, error) {
	shutdown, err := observe.InitProvider(ctx, observe.ProviderConfig{ServiceName: "scenario-summarizer"})
	if err != nil {
		return nil, nil, fmt.Errorf("init telemetry: %w", err)
	}
	return observe.DefaultMetrics(), shutdown, nil
}

// ── Helpers ──────────────────────────────────────────────────────────────────

// optString extracts a string value from a provider Options map.
// Returns "" if the map is nil, the key is absent, or the value is not a
// string.
func optString(opts map[string]any, key string) string {
	if opts == nil {
		return ""
	}
	s, _ := opts[key].(string)
	return s
}
