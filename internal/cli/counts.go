package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"

	"github.com/rcliao/comic-survey/internal/store"
)

func init() {
	cmd := &cobra.Command{
		Use:   "counts",
		Short: "Show group assignment counts and results size",
		Run:   runCounts,
	}

	RootCmd.AddCommand(cmd)
}

func runCounts(cmd *cobra.Command, args []string) {
	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}

	b, err := openBackend(cmd.Context(), cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer b.Close()

	stats, err := store.CollectStats(cmd.Context(), b, cfg.Experiment, cfg.Results.Key)
	if err != nil {
		exitErr("counts", err)
	}

	if formatFlag == "text" {
		writeStatsText(os.Stdout, stats)
		return
	}
	b2, _ := json.MarshalIndent(stats, "", "  ")
	fmt.Println(string(b2))
}

func writeStatsText(w io.Writer, st *store.Stats) {
	fmt.Fprintf(w, "experiment: %s (version %d)\n", st.NS, st.CounterVersion)
	for _, g := range st.Groups {
		fmt.Fprintf(w, "  %s: %d\n", g.Group, g.Count)
	}
	fmt.Fprintf(w, "participants: %d\n", st.Participants)
	fmt.Fprintf(w, "results: %s (%d bytes, version %d)\n", st.ResultsKey, st.ResultsBytes, st.ResultsVersion)
	if st.DBPath != "" {
		fmt.Fprintf(w, "db: %s (%d bytes)\n", st.DBPath, st.DBSizeBytes)
	}
}
