package cli

import (
	"fmt"
	"io"
	"os/signal"
	"syscall"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/countdown"
)

func newCountdownCmd(a *app) *cobra.Command {
	var (
		org      string
		campaign string
		watch    bool
	)
	cmd := &cobra.Command{
		Use:   "countdown",
		Short: "Show time until each campaign's next post generation",
		Long:  "Show the countdown to the next AI post generation of an organization's campaigns. With --watch the display refreshes every tick and resets when a new post appears.",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGINT, syscall.SIGTERM)
			defer stop()

			e, err := buildEngine(ctx, a.cfg, a.version, a.log)
			if err != nil {
				return err
			}
			defer e.Close()

			out := cmd.OutOrStdout()
			opts := e.countdownOptions()
			opts.OnTick = func(ds []countdown.Display) {
				_ = renderCountdowns(out, filterCampaign(ds, campaign))
			}
			r := countdown.NewRunner(org, e.agg, e.store, opts)

			if !watch {
				if err := r.Sync(ctx); err != nil {
					return err
				}
				if err := r.Poll(ctx); err != nil {
					a.log.Warn().Err(err).Msg("post count poll failed")
				}
				if campaign != "" {
					d, err := r.Display(campaign)
					if err != nil {
						return err
					}
					return renderCountdowns(out, []countdown.Display{d})
				}
				return renderCountdowns(out, r.Displays())
			}

			return r.Run(ctx)
		},
	}
	cmd.Flags().StringVar(&org, "org", "", "organization id")
	cmd.Flags().StringVar(&campaign, "campaign", "", "only show this campaign")
	cmd.Flags().BoolVar(&watch, "watch", false, "keep refreshing until interrupted")
	_ = cmd.MarkFlagRequired("org")
	return cmd
}

func filterCampaign(ds []countdown.Display, id string) []countdown.Display {
	if id == "" {
		return ds
	}
	out := ds[:0:0]
	for _, d := range ds {
		if d.CampaignID == id {
			out = append(out, d)
		}
	}
	return out
}

func renderCountdowns(w io.Writer, ds []countdown.Display) error {
	if len(ds) == 0 {
		_, err := fmt.Fprintln(w, "No campaigns.")
		return err
	}
	tw := tabwriter.NewWriter(w, 0, 8, 2, ' ', 0)
	fmt.Fprintln(tw, "CAMPAIGN\tFREQUENCY\tSTATUS\tNEXT")
	for _, d := range ds {
		fmt.Fprintf(tw, "%s\t%s\t%s\n", d.CampaignID, d.Frequency, countdownLabel(d))
	}
	return tw.Flush()
}

// countdownLabel renders the phase and, while counting, the time left.
func countdownLabel(d countdown.Display) string {
	switch d.Phase {
	case countdown.PhaseCounting:
		return fmt.Sprintf("counting\t%s", formatRemaining(d.Remaining))
	case countdown.PhaseGenerating:
		return "generating\tnow"
	case countdown.PhasePendingFirst:
		return "waiting for first post\t-"
	case countdown.PhasePaused:
		return "paused\t-"
	}
	return string(d.Phase) + "\t-"
}

// formatRemaining renders a countdown as H:MM:SS, prefixed with whole days
// beyond 24 hours.
func formatRemaining(d time.Duration) string {
	if d < 0 {
		d = 0
	}
	total := int64(d / time.Second)
	days := total / 86400
	h := (total % 86400) / 3600
	m := (total % 3600) / 60
	s := total % 60
	if days > 0 {
		return fmt.Sprintf("%dd %d:%02d:%02d", days, h, m, s)
	}
	return fmt.Sprintf("%d:%02d:%02d", h, m, s)
}
