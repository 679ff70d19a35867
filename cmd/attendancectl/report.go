package main

import (
	"context"
	"fmt"
	"os"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/your-org/presence/internal/config"
	"github.com/your-org/presence/internal/report"
	"github.com/your-org/presence/internal/storage"
)

var statusCmd = &cobra.Command{
	Use:   "status <identity-id>",
	Short: "Show whether an identity is currently inside",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIdentityID(args[0])
		if err != nil {
			return err
		}
		return withReports(cmd.Context(), func(svc *report.Service) error {
			st, err := svc.GetCurrentStatus(cmd.Context(), id)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(st)
			}
			since := "-"
			if st.Timestamp != nil {
				since = st.Timestamp.Format(time.RFC3339)
			}
			fmt.Printf("identity %d: %s (last %s at %s)\n", st.IdentityID, st.State, st.Kind, since)
			return nil
		})
	},
}

var reportCmd = &cobra.Command{
	Use:   "report",
	Short: "Print time-inside reports",
}

var reportDailyCmd = &cobra.Command{
	Use:   "daily <identity-id>",
	Short: "Time inside on one date, with the intervals that make it up",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIdentityID(args[0])
		if err != nil {
			return err
		}
		return withReports(cmd.Context(), func(svc *report.Service) error {
			day, err := dateFlag(cmd, "date", svc.Today())
			if err != nil {
				return err
			}
			r, err := svc.GenerateDailyReport(cmd.Context(), id, day)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(r)
			}

			fmt.Printf("%s (%d) on %s: %s\n\n", r.Name, r.IdentityID, r.Date, r.Formatted)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ENTRY\tEXIT\tDURATION\tCLIPPED")
			for _, iv := range r.Intervals {
				fmt.Fprintf(w, "%s\t%s\t%s\t%v\n", iv.Entry.Format(time.TimeOnly), iv.Exit.Format(time.TimeOnly), iv.Duration, iv.Clipped)
			}
			if r.OpenSince != nil {
				fmt.Fprintf(w, "%s\t(open)\t-\t-\n", r.OpenSince.Format(time.TimeOnly))
			}
			return w.Flush()
		})
	},
}

var reportWeeklyCmd = &cobra.Command{
	Use:   "weekly <identity-id>",
	Short: "Daily totals over a date range (default: the seven days ending today)",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		id, err := parseIdentityID(args[0])
		if err != nil {
			return err
		}
		return withReports(cmd.Context(), func(svc *report.Service) error {
			end, err := dateFlag(cmd, "end", svc.Today())
			if err != nil {
				return err
			}
			start, err := dateFlag(cmd, "start", end.AddDate(0, 0, -6))
			if err != nil {
				return err
			}
			r, err := svc.GenerateWeeklyReport(cmd.Context(), id, start, end)
			if err != nil {
				return err
			}
			if jsonOutput {
				return printJSON(r)
			}

			fmt.Printf("%s (%d), %s to %s: %s\n\n", r.Name, r.IdentityID, r.Start, r.End, r.Formatted)
			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "DATE\tTOTAL")
			for _, d := range r.Days {
				fmt.Fprintf(w, "%s\t%s\n", d.Date, d.Formatted)
			}
			return w.Flush()
		})
	},
}

func init() {
	reportDailyCmd.Flags().String("date", "", "date as YYYY-MM-DD (default today)")
	reportWeeklyCmd.Flags().String("start", "", "first date, YYYY-MM-DD")
	reportWeeklyCmd.Flags().String("end", "", "last date, YYYY-MM-DD (default today)")
	reportCmd.AddCommand(reportDailyCmd, reportWeeklyCmd)
	rootCmd.AddCommand(statusCmd, reportCmd)
}

// withReports opens the database and runs fn against an uncached report
// service.
func withReports(ctx context.Context, fn func(*report.Service) error) error {
	cfg, err := loadConfig()
	if err != nil {
		return err
	}
	db, err := openDB(ctx, cfg)
	if err != nil {
		return err
	}
	defer db.Close()

	svc, err := newReportService(db, cfg)
	if err != nil {
		return err
	}
	return fn(svc)
}

func newReportService(db *storage.PostgresStore, cfg *config.Config) (*report.Service, error) {
	opts, err := report.OptionsFromConfig(cfg.Report, cfg.Presence.PersistTimeout)
	if err != nil {
		return nil, err
	}
	return report.NewService(db, nil, opts), nil
}

func parseIdentityID(s string) (int64, error) {
	id, err := strconv.ParseInt(s, 10, 64)
	if err != nil || id <= 0 {
		return 0, fmt.Errorf("invalid identity id %q", s)
	}
	return id, nil
}

func dateFlag(cmd *cobra.Command, name string, def time.Time) (time.Time, error) {
	s := mustGetString(cmd, name)
	if s == "" {
		return def, nil
	}
	return report.ParseDate(s)
}
