package cli

import (
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/comic-survey/internal/session"
	"github.com/rcliao/comic-survey/internal/terminal"
)

func init() {
	cmd := &cobra.Command{
		Use:   "run",
		Short: "Run one participant session in the terminal",
		Run:   runSession,
	}

	cmd.Flags().String("images", "", "Image directory (overrides content.dir)")

	RootCmd.AddCommand(cmd)
}

func runSession(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	if dir, _ := cmd.Flags().GetString("images"); dir != "" {
		cfg.Content.Dir = dir
	}
	log := newLogger(cfg)
	defer log.Sync()

	ctx := cmd.Context()
	b, err := openBackend(ctx, cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer b.Close()

	f, closeSrc, err := newFactory(ctx, cfg, b, log)
	if err != nil {
		exitErr("setup", err)
	}
	defer closeSrc()

	p := terminal.New(os.Stdin, os.Stdout, terminal.Options{
		ImageDir:       cfg.Content.Dir,
		AskKnownBefore: cfg.Survey.AskKnownBefore,
	})
	out, s, err := session.Run(ctx, f, p)
	if s != nil {
		log.Info("session finished", "participant_id", s.Participant().ID, "group", s.Participant().Group, "outcome", out.String(), "flushed", len(s.Flushed()), "pending", len(s.Pending()))
	}
	if err != nil {
		log.Error("session failed", "outcome", out.String(), "error", err)
		os.Exit(1)
	}
}
