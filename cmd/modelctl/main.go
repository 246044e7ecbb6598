// Command modelctl manages the on-disk model cache used by the
// acquisition and streaming pipeline: it drives verify/download/
// extract cycles, inspects what is present, and reads and writes the
// process-wide environment store.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/sherpa-go/sherpa-agents-go/pkg/acquire"
	"github.com/sherpa-go/sherpa-agents-go/pkg/env"
	"github.com/sherpa-go/sherpa-agents-go/pkg/feedback"
	"github.com/sherpa-go/sherpa-agents-go/pkg/hashcache"
	"github.com/sherpa-go/sherpa-agents-go/pkg/model"
	"github.com/sherpa-go/sherpa-agents-go/pkg/modelpath"
	"github.com/sherpa-go/sherpa-agents-go/pkg/registry"
	"github.com/sherpa-go/sherpa-agents-go/pkg/version"
)

var rootCmd = &cobra.Command{
	Use:   "modelctl",
	Short: "Manage the sherpa-onnx model cache",
	Long: `modelctl inspects, prepares, verifies, and cleans the on-disk cache of
speech models used by the acquisition and streaming pipeline.`,
	SilenceUsage: true,
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println(version.GetVersionInfo())
	},
}

var listCmd = &cobra.Command{
	Use:   "list [kind]",
	Short: "List every model in the registry, or only those of one kind",
	Long: `Print each registered model's id, module kind, and download URL.
Available kinds: speech-recognition, speech-synthesis, voice-activity-detection,
keyword-spotting, speech-enhancement, speaker-identification,
speaker-diarization, speaker-verification, audio-tagging, add-punctuation,
source-separation, spoken-language-identification.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		reg, err := buildRegistry()
		if err != nil {
			return err
		}

		var models []model.Metadata
		if len(args) > 0 {
			models, err = reg.ByKind(model.Kind(args[0]))
		} else {
			models, err = reg.All()
		}
		if err != nil {
			return fmt.Errorf("list: %w", err)
		}

		if len(models) == 0 {
			fmt.Println("No models registered")
			return nil
		}

		fmt.Printf("%-28s %-32s %s\n", "MODEL ID", "KIND", "DOWNLOAD URL")
		fmt.Println("--------------------------------------------------------------------------------")
		for _, m := range models {
			fmt.Printf("%-28s %-32s %s\n", m.ModelID, m.ModuleKind, m.DownloadURL)
		}

		logger.Info("listed models", slog.Int("count", len(models)))
		return nil
	},
}

var prepareCmd = &cobra.Command{
	Use:   "prepare [model-id...]",
	Short: "Verify, download, and extract the given models (or every model)",
	Long: `Run the verify → download → extract loop for the named models. With no
arguments, every model in the registry is prepared.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		reg, err := buildRegistry()
		if err != nil {
			return err
		}
		resolver, err := buildResolver()
		if err != nil {
			return err
		}

		models, err := selectModels(reg, args)
		if err != nil {
			return err
		}
		if len(models) == 0 {
			fmt.Println("No models to prepare")
			return nil
		}

		ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer cancel()

		orch := acquire.New(resolver, logger)
		reporter := feedback.NewCallbackReporter(logger, printProgressLine)

		succeeded, total := acquire.PrepareAll(ctx, orch, models, reporter)
		fmt.Printf("Prepared %d/%d models\n", succeeded, total)

		logger.Info("prepare completed",
			slog.Int("succeeded", succeeded),
			slog.Int("total", total))

		if succeeded < total {
			return fmt.Errorf("modelctl: %d of %d models failed to prepare", total-succeeded, total)
		}
		return nil
	},
}

var verifyCmd = &cobra.Command{
	Use:   "verify [model-id...]",
	Short: "Check the on-disk hash of every file for the given models",
	Long: `Compare each model file's SHA-256 hash against the manifest, without
downloading or extracting anything. A file whose hash sidecar is current
is checked against the cached digest without rehashing, and a file with
no manifest hash is only checked for existence. With no arguments,
every model in the registry is checked.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		reg, err := buildRegistry()
		if err != nil {
			return err
		}

		models, err := selectModels(reg, args)
		if err != nil {
			return err
		}

		ctx := context.Background()
		mismatches := 0
		for _, m := range models {
			for i, path := range m.ModelFileNames {
				res := hashcache.VerifyFile(ctx, path, m.FileHash(i), nil)
				switch res.Outcome {
				case hashcache.OutcomeSuccess, hashcache.OutcomeCacheHit:
					fmt.Printf("✓ %s: %s\n", m.ModelID, path)
				default:
					mismatches++
					fmt.Printf("✗ %s: %s (%s)\n", m.ModelID, path, res.Outcome)
				}
			}
		}

		logger.Info("verify completed",
			slog.Int("models", len(models)),
			slog.Int("mismatches", mismatches))

		if mismatches > 0 {
			return fmt.Errorf("modelctl: %d file(s) failed verification", mismatches)
		}
		return nil
	},
}

var cleanCmd = &cobra.Command{
	Use:   "clean [model-id...]",
	Short: "Remove the on-disk directory for the given models",
	Long:  `Delete each named model's directory. With no arguments, every model's directory is removed.`,
	RunE: func(cmd *cobra.Command, args []string) error {
		logger := setupLogger()
		reg, err := buildRegistry()
		if err != nil {
			return err
		}
		resolver, err := buildResolver()
		if err != nil {
			return err
		}

		models, err := selectModels(reg, args)
		if err != nil {
			return err
		}

		removed := 0
		for _, m := range models {
			dir, err := resolver.ModelRoot(m)
			if err != nil {
				return fmt.Errorf("clean: %w", err)
			}
			if _, statErr := os.Stat(dir); os.IsNotExist(statErr) {
				continue
			}
			if err := os.RemoveAll(dir); err != nil {
				logger.Error("clean failed", slog.String("modelId", m.ModelID), slog.String("error", err.Error()))
				return fmt.Errorf("clean: %s: %w", m.ModelID, err)
			}
			fmt.Printf("✓ removed %s\n", m.ModelID)
			removed++
		}

		logger.Info("clean completed", slog.Int("removed", removed), slog.Int("requested", len(models)))
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status [kind]",
	Short: "Report whether every file of each model already verifies on disk",
	Long: `Compare each model file's SHA-256 hash against the manifest (using a
current hash sidecar without rehashing), the same check PrepareModel
runs before deciding whether to download.
With no argument, every registered model is checked; with a kind
argument, only models of that module kind are.`,
	Args: cobra.MaximumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		reg, err := buildRegistry()
		if err != nil {
			return err
		}

		var kind model.Kind
		if len(args) > 0 {
			kind = model.Kind(args[0])
		}

		status, err := reg.Status(kind)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}

		ids := make([]string, 0, len(status))
		for id := range status {
			ids = append(ids, id)
		}
		sort.Strings(ids)

		fmt.Printf("%-28s %s\n", "MODEL ID", "STATUS")
		fmt.Println("--------------------------------------------------")
		for _, id := range ids {
			s := "not ready"
			if status[id] {
				s = "ready"
			}
			fmt.Printf("%-28s %s\n", id, s)
		}
		return nil
	},
}

var envCmd = &cobra.Command{
	Use:   "env",
	Short: "Inspect and edit the process-wide environment store",
}

var envGetCmd = &cobra.Command{
	Use:   "get <key>",
	Short: "Print the value of a setting",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		v, ok := env.Default().Get(args[0])
		if !ok {
			return fmt.Errorf("modelctl: %s is not set", args[0])
		}
		fmt.Println(v)
		return nil
	},
}

var envSetCmd = &cobra.Command{
	Use:   "set <key> <value>",
	Short: "Set a setting",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		env.Default().Set(args[0], args[1])
		fmt.Printf("✓ %s set\n", args[0])
		return nil
	},
}

var envListCmd = &cobra.Command{
	Use:   "list",
	Short: "List every configured setting key",
	RunE: func(cmd *cobra.Command, args []string) error {
		keys := env.Default().Keys()
		if len(keys) == 0 {
			fmt.Println("No settings configured")
			return nil
		}
		for _, k := range keys {
			v, _ := env.Default().Get(k)
			fmt.Printf("%s=%s\n", k, v)
		}
		return nil
	},
}

// buildResolver constructs a modelpath.Resolver rooted at
// --data-root, falling back to MODELCTL_DATA_ROOT and finally
// $HOME/.sherpa-onnx.
func buildResolver() (*modelpath.Resolver, error) {
	dataRoot, _ := rootCmd.PersistentFlags().GetString("data-root")
	if dataRoot == "" {
		dataRoot = os.Getenv("MODELCTL_DATA_ROOT")
	}
	if dataRoot == "" {
		home, err := os.UserHomeDir()
		if err != nil {
			return nil, fmt.Errorf("modelctl: resolve default data root: %w", err)
		}
		dataRoot = home + string(os.PathSeparator) + ".sherpa-onnx"
	}
	return modelpath.New(dataRoot)
}

func buildRegistry() (*registry.Registry, error) {
	resolver, err := buildResolver()
	if err != nil {
		return nil, err
	}
	return registry.Default(resolver), nil
}

// selectModels resolves a list of model ids to their Metadata, or
// every registered model when ids is empty, always through Get so
// ModelFileNames is the resolved absolute path rather than the raw
// manifest entry.
func selectModels(reg *registry.Registry, ids []string) ([]model.Metadata, error) {
	if len(ids) == 0 {
		all, err := reg.All()
		if err != nil {
			return nil, err
		}
		ids = make([]string, len(all))
		for i, m := range all {
			ids[i] = m.ModelID
		}
	}
	models := make([]model.Metadata, 0, len(ids))
	for _, id := range ids {
		m, err := reg.Get(id)
		if err != nil {
			return nil, fmt.Errorf("modelctl: %w", err)
		}
		models = append(models, m)
	}
	return models, nil
}

// printProgressLine renders acquisition events in the terse,
// checkmark-prefixed style used elsewhere in this tool.
func printProgressLine(e feedback.Event) {
	switch e.Kind {
	case feedback.KindDownload:
		if e.TotalBytes > 0 {
			fmt.Printf("\rDownloading %s: %.0f%%", e.Metadata.ModelID, e.Progress*100)
		}
	case feedback.KindExtract:
		fmt.Printf("\rExtracting %s: %.0f%%", e.Metadata.ModelID, e.Progress*100)
	case feedback.KindSuccess:
		fmt.Printf("\n✓ %s ready\n", e.Metadata.ModelID)
	case feedback.KindFailed:
		fmt.Printf("\n✗ %s failed: %v\n", e.Metadata.ModelID, e.Err)
	case feedback.KindCancel:
		fmt.Printf("\n✗ %s cancelled\n", e.Metadata.ModelID)
	case feedback.KindClean:
		fmt.Printf("✓ cleaned %s\n", e.FilePath)
	}
}

// setupLogger builds the process slog.Logger from MODELCTL_LOG_FORMAT
// ("console" or the default JSON) and MODELCTL_LOG_LEVEL.
func setupLogger() *slog.Logger {
	logFormat := os.Getenv("MODELCTL_LOG_FORMAT")
	logLevel := os.Getenv("MODELCTL_LOG_LEVEL")

	opts := &slog.HandlerOptions{}
	switch logLevel {
	case "debug":
		opts.Level = slog.LevelDebug
	case "info":
		opts.Level = slog.LevelInfo
	case "warn":
		opts.Level = slog.LevelWarn
	case "error":
		opts.Level = slog.LevelError
	default:
		opts.Level = slog.LevelInfo
	}

	var handler slog.Handler
	if logFormat == "console" {
		handler = slog.NewTextHandler(os.Stderr, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stderr, opts)
	}

	logger := slog.New(handler)
	slog.SetDefault(logger)
	return logger
}

func init() {
	rootCmd.PersistentFlags().String("data-root", "", "Root directory for the model cache (defaults to $MODELCTL_DATA_ROOT or ~/.sherpa-onnx)")

	envCmd.AddCommand(envGetCmd, envSetCmd, envListCmd)
	rootCmd.AddCommand(versionCmd, listCmd, prepareCmd, verifyCmd, cleanCmd, statusCmd, envCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
