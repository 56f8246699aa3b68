package cli

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/rcliao/comic-survey/internal/model"
)

func init() {
	cmd := &cobra.Command{
		Use:   "items",
		Short: "List the stimulus items of each group",
		Run:   runItems,
	}

	cmd.Flags().StringP("group", "g", "", "Only this group")
	cmd.Flags().Bool("names-only", false, "Only output filenames")

	RootCmd.AddCommand(cmd)
}

func runItems(cmd *cobra.Command, args []string) {
	group, _ := cmd.Flags().GetString("group")
	namesOnly, _ := cmd.Flags().GetBool("names-only")

	cfg, err := loadConfig()
	if err != nil {
		exitErr("load config", err)
	}
	ctx := cmd.Context()

	b, err := openBackend(ctx, cfg)
	if err != nil {
		exitErr("open store", err)
	}
	defer b.Close()

	f, closeSrc, err := newFactory(ctx, cfg, b, newLogger(cfg))
	if err != nil {
		exitErr("setup", err)
	}
	defer closeSrc()

	groups := cfg.Groups()
	if group != "" {
		if !model.ValidGroup(groups, model.Group(group)) {
			exitErr("items", fmt.Errorf("unknown group %q", group))
		}
		groups = []model.Group{model.Group(group)}
	}

	byGroup := make(map[model.Group][]model.StimulusItem, len(groups))
	for _, g := range groups {
		items, err := f.Catalog.ItemsFor(ctx, g)
		if err != nil {
			exitErr("items", err)
		}
		byGroup[g] = items
	}

	if namesOnly {
		for _, g := range groups {
			for _, it := range byGroup[g] {
				fmt.Println(it.Filename)
			}
		}
		return
	}

	b2, _ := json.MarshalIndent(byGroup, "", "  ")
	fmt.Println(string(b2))
}
