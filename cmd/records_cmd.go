package cmd

import (
	"encoding/json"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/glimpse/internal/history"
	"github.com/nextlevelbuilder/glimpse/internal/record"
)

func recordsCmd() *cobra.Command {
	var limit int
	var since, until string
	var jsonOutput bool
	cmd := &cobra.Command{
		Use:   "records",
		Short: "List recorded activity, newest first",
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			setupLogging(cfg)

			svc, err := history.New(cfg, history.Collaborators{})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			defer svc.Close()

			var recs []record.CaptureRecord
			if since != "" {
				start, err := parseAgo(since)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: invalid --since duration: %s\n", err)
					os.Exit(1)
				}
				end := time.Now()
				if until != "" {
					end, err = parseAgo(until)
					if err != nil {
						fmt.Fprintf(os.Stderr, "Error: invalid --until duration: %s\n", err)
						os.Exit(1)
					}
				}
				recs, err = svc.RecordsInRange(start, end)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %s\n", err)
					os.Exit(1)
				}
				// InRange returns oldest first; flip for display.
				for i, j := 0, len(recs)-1; i < j; i, j = i+1, j-1 {
					recs[i], recs[j] = recs[j], recs[i]
				}
				if len(recs) > limit {
					recs = recs[:limit]
				}
			} else {
				recs, err = svc.RecentRecords(limit)
				if err != nil {
					fmt.Fprintf(os.Stderr, "Error: %s\n", err)
					os.Exit(1)
				}
			}
			printRecords(recs, jsonOutput)
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 50, "maximum records")
	cmd.Flags().StringVar(&since, "since", "", "only records newer than this duration ago (e.g. 2h, 30m)")
	cmd.Flags().StringVar(&until, "until", "", "only records older than this duration ago")
	cmd.Flags().BoolVar(&jsonOutput, "json", false, "output as JSON")
	return cmd
}

// parseAgo turns a duration string into the point that long ago.
func parseAgo(s string) (time.Time, error) {
	d, err := time.ParseDuration(s)
	if err != nil {
		return time.Time{}, err
	}
	return time.Now().Add(-d), nil
}

func printRecords(recs []record.CaptureRecord, jsonOutput bool) {
	if jsonOutput {
		data, _ := json.MarshalIndent(recs, "", "  ")
		fmt.Println(string(data))
		return
	}
	if len(recs) == 0 {
		fmt.Println("No records.")
		return
	}
	w := tabwriter.NewWriter(os.Stdout, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "ID\tTIME\tKIND\tSTATE\tAPP\tTEXT")
	for _, r := range recs {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\t%s\t%s\n",
			r.ID[:8],
			r.CreatedAt.Local().Format("2006-01-02 15:04:05"),
			r.Kind,
			r.EnrichmentState,
			r.SourceApp,
			truncate(r.ExtractedText, 50),
		)
	}
	w.Flush()
}

func deleteCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "delete <record-id>",
		Short: "Delete a record and its payload",
		Args:  cobra.ExactArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			cfg := loadConfig()
			setupLogging(cfg)

			svc, err := history.New(cfg, history.Collaborators{})
			if err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			defer svc.Close()

			if err := svc.DeleteRecord(args[0]); err != nil {
				fmt.Fprintf(os.Stderr, "Error: %s\n", err)
				os.Exit(1)
			}
			fmt.Printf("Deleted %s\n", args[0])
		},
	}
}
