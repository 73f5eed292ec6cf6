package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/calendar"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/timezone"
)

func newWeekCmd(a *app) *cobra.Command {
	var (
		org     string
		week    string
		asJSON  bool
		preview int
	)
	cmd := &cobra.Command{
		Use:   "week",
		Short: "Print one week of an organization's calendar",
		Long:  "Fetch and reconcile one week of posts and print them by day and hour in the user's timezone.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			e, err := buildEngine(ctx, a.cfg, a.version, a.log)
			if err != nil {
				return err
			}
			defer e.Close()

			s := e.calendars.Session(org)
			target := s.CurrentWeek(ctx)
			if week != "" {
				d, err := timezone.ParseDate(week)
				if err != nil {
					return fmt.Errorf("--week: %w", err)
				}
				target = d
			}
			v, err := s.Refresh(ctx, target)
			if err != nil {
				return err
			}
			if asJSON {
				return writeWeekJSON(cmd.OutOrStdout(), v)
			}
			return renderWeek(cmd.OutOrStdout(), v, preview)
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	cmd.Flags().StringVar(&week, "week", "", "any date inside the week (YYYY-MM-DD, default this week)")
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table")
	cmd.Flags().IntVar(&preview, "preview", 40, "content preview length")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

type weekCellJSON struct {
	Date   string                  `json:"date"`
	Day    int                     `json:"day"`
	Hour   int                     `json:"hour"`
	Events []domain.CanonicalEvent `json:"events"`
}

func writeWeekJSON(w io.Writer, v calendar.View) error {
	out := struct {
		Week     string         `json:"week"`
		Timezone string         `json:"timezone"`
		Cells    []weekCellJSON `json:"cells"`
		Partial  []string       `json:"partial,omitempty"`
	}{Week: v.Week.String(), Timezone: v.Timezone, Cells: []weekCellJSON{}}
	for _, c := range v.Grid.Cells() {
		out.Cells = append(out.Cells, weekCellJSON{Date: c.Date, Day: c.Slot.Day, Hour: c.Slot.Hour, Events: c.Events})
	}
	for _, p := range v.Partial {
		out.Partial = append(out.Partial, p.Error())
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// renderWeek prints one row per event in slot order.
func renderWeek(w io.Writer, v calendar.View, preview int) error {
	fmt.Fprintf(w, "Week of %s (%s)\n", v.Week, v.Timezone)
	for _, p := range v.Partial {
		fmt.Fprintf(w, "warning: %s unavailable: %v\n", p.Source, p.Err)
	}
	cells := v.Grid.Cells()
	if len(cells) == 0 {
		fmt.Fprintln(w, "No posts this week.")
		return nil
	}

	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "DAY\tTIME\tKEY\tSTATUS\tSOURCE\tCONTENT")
	for _, c := range cells {
		day := v.Grid.Day(c.Slot.Day)
		label := fmt.Sprintf("%s %s", day.Weekday().String()[:3], day)
		for _, ev := range c.Events {
			fmt.Fprintf(tw, "%s\t%02d:00\t%s\t%s\t%s\t%s\n",
				label, c.Slot.Hour, ev.Key(), ev.Status, ev.Source, truncate(ev.Content.Body, preview))
		}
	}
	return tw.Flush()
}

func truncate(s string, n int) string {
	s = strings.Join(strings.Fields(s), " ")
	if n <= 0 || len([]rune(s)) <= n {
		return s
	}
	r := []rune(s)
	return string(r[:n]) + "..."
}
