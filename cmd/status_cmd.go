package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/glimpse/internal/history"
)

func statusCmd() *cobra.Command {
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show store contents and stage states",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			setupLogging(cfg)

			svc, err := history.New(cfg, history.Collaborators{})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			defer svc.Close()

			st, err := svc.Status()
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}

			if jsonOutput {
				data, _ := json.MarshalIndent(st, "", "  ")
				fmt.Println(string(data))
				return
			}

			w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
			fmt.Fprintf(w, "data dir\t%s\n", cfg.DataDir)
			for kind, n := range st.RecordsByKind {
				fmt.Fprintf(w, "records/%s\t%d\n", kind, n)
			}
			for state, n := range st.RecordsByState {
				fmt.Fprintf(w, "enrichment/%s\t%d\n", state, n)
			}
			w.Flush()
		},
	}
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

func sweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "sweep",
		Short: "Run a retention pass now",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			setupLogging(cfg)

			svc, err := history.New(cfg, history.Collaborators{})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			defer svc.Close()

			svc.SweepNow()
		},
	}
}
