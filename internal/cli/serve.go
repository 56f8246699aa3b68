package cli

import (
	"os"
	"os/signal"
	"syscall"

	"github.com/gin-gonic/gin"
	"github.com/spf13/cobra"

	"github.com/rcliao/comic-survey/internal/server"
)

func init() {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the survey over HTTP",
		Run:   runServe,
	}

	cmd.Flags().String("addr", "", "Listen address (overrides server.addr)")

	RootCmd.AddCommand(cmd)
}

func runServe(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	if addr, _ := cmd.Flags().GetString("addr"); addr != "" {
		cfg.Server.Addr = addr
	}
	if cfg.Logging.Mode == "prod" {
		gin.SetMode(gin.ReleaseMode)
	}
	log := newLogger(cfg)
	defer log.Sync()

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

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

	if err := server.New(f, log, cfg.SessionTTL()).Run(ctx, cfg.Server.Addr); err != nil {
		exitErr("serve", err)
	}
}
