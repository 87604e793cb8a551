package cmd

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/jmylchreest/vsdl/internal/config"
	"github.com/jmylchreest/vsdl/internal/orchestrator"
)

var downloadCmd = &cobra.Command{
	Use:   "download <manifest-url>",
	Short: "Download an adaptive-streaming manifest",
	Long: `Download parses a DASH MPD or HLS master playlist, selects video,
audio, and subtitle streams, fetches and decrypts their segments in
parallel, reassembles them in order, and (unless --output is empty)
hands the result to ffmpeg for muxing into a single file.`,
	Args: cobra.ExactArgs(1),
	RunE: runDownload,
}

func init() {
	rootCmd.AddCommand(downloadCmd)

	flags := downloadCmd.Flags()
	flags.Int("threads", 5, "parallel fetch workers per stream")
	flags.Int("retry-count", 3, "retries allowed per segment before giving up")
	flags.String("quality", "highest", "video quality: highest, lowest, select-later, a resolution preset, or WxH")
	flags.StringSlice("key", nil, "decryption key as kid:key or bare key (hex), repeatable")
	flags.Bool("no-decrypt", false, "write segments without decrypting (ciphertext as-is)")
	flags.Bool("all-keys", false, "allow any supplied key to satisfy any stream's default KID")
	flags.String("prefer-audio-lang", "", "preferred audio language tag")
	flags.String("prefer-subs-lang", "", "preferred subtitle language tag")
	flags.StringP("directory", "d", ".", "working directory for temp files and output")
	flags.StringP("output", "o", "", "muxed output file path (empty disables muxing)")
	flags.Bool("skip-prompts", false, "accept selector defaults without prompting")
	flags.Bool("raw-prompts", false, "use a plain stdin prompt instead of the interactive TUI")

	mustBindPFlag("download.threads", flags.Lookup("threads"))
	mustBindPFlag("download.retry_count", flags.Lookup("retry-count"))
	mustBindPFlag("download.quality", flags.Lookup("quality"))
	mustBindPFlag("download.keys", flags.Lookup("key"))
	mustBindPFlag("download.no_decrypt", flags.Lookup("no-decrypt"))
	mustBindPFlag("download.all_keys", flags.Lookup("all-keys"))
	mustBindPFlag("download.prefer_audio_lang", flags.Lookup("prefer-audio-lang"))
	mustBindPFlag("download.prefer_subs_lang", flags.Lookup("prefer-subs-lang"))
	mustBindPFlag("download.directory", flags.Lookup("directory"))
	mustBindPFlag("download.output", flags.Lookup("output"))
	mustBindPFlag("download.skip_prompts", flags.Lookup("skip-prompts"))
	mustBindPFlag("download.raw_prompts", flags.Lookup("raw-prompts"))
}

func runDownload(cmd *cobra.Command, args []string) error {
	var cfg config.Config
	if err := viper.Unmarshal(&cfg); err != nil {
		return fmt.Errorf("unmarshaling config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("validating config: %w", err)
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received shutdown signal, cancelling download", slog.String("signal", sig.String()))
		cancel()
	}()

	return orchestrator.Run(ctx, orchestrator.Options{
		ManifestURL: args[0],
		Config:      cfg,
		Logger:      slog.Default(),
	})
}
