// CLI for beat analysis and beat-synced music video generation.
package main

import (
	"encoding/json"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/montezlab/beatsync/pkg/beats"
	"github.com/montezlab/beatsync/pkg/config"
	"github.com/montezlab/beatsync/pkg/fetch"
	"github.com/montezlab/beatsync/pkg/ffmpeg"
	"github.com/montezlab/beatsync/pkg/generate"
	"github.com/montezlab/beatsync/pkg/server"
	"github.com/montezlab/beatsync/pkg/video"
)

var rootCmd = &cobra.Command{
	Use:   "beatsync",
	Short: "Beat analysis and beat-synced music video generation",
}

var analyzeCmd = &cobra.Command{
	Use:   "analyze <directory>",
	Short: "Analyze audio files and create JSON sidecars",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		force, _ := cmd.Flags().GetBool("force")
		return runAnalyze(args[0], force)
	},
}

var generateCmd = &cobra.Command{
	Use:   "generate",
	Short: "Generate one beat-synced music video",
	RunE: func(cmd *cobra.Command, args []string) error {
		req := video.Request{}
		req.AudioURL, _ = cmd.Flags().GetString("audio")
		req.Prompt, _ = cmd.Flags().GetString("prompt")
		req.Title, _ = cmd.Flags().GetString("title")
		req.DurationSeconds, _ = cmd.Flags().GetInt("duration")
		req.SeedImageURL, _ = cmd.Flags().GetString("seed-image")
		req.SeedVideoURL, _ = cmd.Flags().GetString("seed-video")
		if single, _ := cmd.Flags().GetBool("single"); single {
			return runGenerateSingle(cmd, req)
		}
		return runGenerate(cmd, req)
	},
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the music video API server",
	RunE: func(cmd *cobra.Command, args []string) error {
		return runServe()
	},
}

func init() {
	analyzeCmd.Flags().BoolP("force", "f", false, "Force re-analysis even if JSON exists")

	generateCmd.Flags().String("audio", "", "Audio track URL (required)")
	generateCmd.Flags().String("prompt", "", "Visual theme prompt (required)")
	generateCmd.Flags().String("title", "untitled", "Job title")
	generateCmd.Flags().Int("duration", 10, "Target video duration in seconds")
	generateCmd.Flags().String("seed-image", "", "Image URL conditioning the first segment")
	generateCmd.Flags().String("seed-video", "", "Video URL used verbatim as the first segment")
	generateCmd.Flags().Bool("single", false, "Generate one clip without segmentation or syncing")
	generateCmd.MarkFlagRequired("audio")
	generateCmd.MarkFlagRequired("prompt")

	rootCmd.AddCommand(analyzeCmd)
	rootCmd.AddCommand(generateCmd)
	rootCmd.AddCommand(serveCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

// runAnalyze walks dir and writes a JSON analysis sidecar next to every
// supported audio file. Existing sidecars are kept unless force is set.
func runAnalyze(dir string, force bool) error {
	return filepath.WalkDir(dir, func(path string, d fs.DirEntry, err error) error {
		if err != nil {
			return err
		}
		if d.IsDir() || !isAudioFile(strings.ToLower(filepath.Ext(path))) {
			return nil
		}

		sidecar := strings.TrimSuffix(path, filepath.Ext(path)) + ".json"
		if !force {
			if _, err := os.Stat(sidecar); err == nil {
				fmt.Printf("skip %s (sidecar exists)\n", path)
				return nil
			}
		}

		analysis, err := beats.AnalyzeFile(path)
		if err != nil {
			fmt.Fprintf(os.Stderr, "analyze %s: %v\n", path, err)
			return nil
		}

		data, err := json.MarshalIndent(analysis, "", "  ")
		if err != nil {
			return fmt.Errorf("encode analysis for %s: %w", path, err)
		}
		if err := os.WriteFile(sidecar, data, 0o644); err != nil {
			return fmt.Errorf("write %s: %w", sidecar, err)
		}
		fmt.Printf("analyzed %s: %d BPM, %d beats (%s)\n", path, analysis.BPM, len(analysis.Beats), analysis.Source)
		return nil
	})
}

func runGenerate(cmd *cobra.Command, req video.Request) error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	orchestrator, _, err := buildOrchestrator(log)
	if err != nil {
		return err
	}

	result, err := orchestrator.Generate(cmd.Context(), req)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

// runGenerateSingle produces one clip straight from the model, skipping
// beat analysis, composition, and syncing.
func runGenerateSingle(cmd *cobra.Command, req video.Request) error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	model, err := buildModel(cfg)
	if err != nil {
		return err
	}

	segment, err := generate.New(model, log).GenerateSingle(cmd.Context(), req.Prompt, req.DurationSeconds)
	if err != nil {
		return err
	}
	fmt.Println(segment.URL)
	return nil
}

func runServe() error {
	log, err := zap.NewProduction()
	if err != nil {
		return err
	}
	defer log.Sync()

	orchestrator, cfg, err := buildOrchestrator(log)
	if err != nil {
		return err
	}

	fetcher := fetch.New()
	analyzer := beats.NewService(fetcher, cfg.Dirs.Temp, log)
	srv := server.New(orchestrator, analyzer, cfg.Dirs.Output, log)
	log.Info("starting server", zap.String("listen", cfg.Server.Listen))
	return srv.Run(cfg.Server.Listen)
}

// buildOrchestrator wires the full pipeline from configuration. A missing
// ffmpeg or API token fails here, before any job runs.
func buildOrchestrator(log *zap.Logger) (*video.Orchestrator, *config.Config, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	var engine *ffmpeg.Engine
	if cfg.FFmpeg.Path != "" {
		engine = ffmpeg.NewAt(cfg.FFmpeg.Path, cfg.FFmpeg.ProbePath, log)
	} else {
		engine, err = ffmpeg.New(log)
		if err != nil {
			return nil, nil, err
		}
	}

	model, err := buildModel(cfg)
	if err != nil {
		return nil, nil, err
	}

	fetcher := fetch.New()
	orchestrator := video.New(
		beats.NewService(fetcher, cfg.Dirs.Temp, log),
		generate.New(model, log),
		engine,
		fetcher,
		cfg.Dirs.Temp,
		cfg.Dirs.Output,
		log,
	)
	return orchestrator, cfg, nil
}

func buildModel(cfg *config.Config) (*generate.ReplicateModel, error) {
	if cfg.Model.Endpoint != "" {
		return generate.NewReplicateModelAt(cfg.Model.Token, cfg.Model.Endpoint, nil)
	}
	return generate.NewReplicateModel(cfg.Model.Token)
}

// isAudioFile returns true if the extension is a supported audio format.
func isAudioFile(ext string) bool {
	switch ext {
	case ".wav", ".mp3":
		return true
	default:
		return false
	}
}
