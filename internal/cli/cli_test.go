package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"
	_ "time/tzdata"

	"github.com/spf13/cobra"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/calendar"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/config"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/countdown"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/domain"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/slots"
	"github.com/Xavierhuang/linkedinAutomationTool-sub002/internal/timezone"
)

func weekView(t *testing.T) calendar.View {
	t.Helper()
	loc, err := time.LoadLocation("America/New_York")
	require.NoError(t, err)
	week := timezone.Date{Year: 2024, Month: time.January, Day: 7}
	events := []domain.CanonicalEvent{{
		ID:          "p1",
		Source:      domain.SourceScheduled,
		Status:      domain.StatusScheduled,
		ScheduledAt: time.Date(2024, 1, 10, 14, 0, 0, 0, time.UTC),
		Content:     domain.Content{Body: "hello\n  world, this is a long post"},
	}}
	return calendar.View{Week: week, Timezone: "America/New_York", Grid: slots.Index(events, loc, week)}
}

func TestRenderWeek(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, renderWeek(&buf, weekView(t), 11))

	out := buf.String()
	assert.Contains(t, out, "Week of 2024-01-07 (America/New_York)")
	assert.Contains(t, out, "Wed 2024-01-10")
	assert.Contains(t, out, "09:00")
	assert.Contains(t, out, "post:p1")
	assert.Contains(t, out, "hello world...")
}

func TestRenderWeek_Empty(t *testing.T) {
	var buf bytes.Buffer
	v := calendar.View{Week: timezone.Date{Year: 2024, Month: time.January, Day: 7}, Timezone: "UTC"}
	require.NoError(t, renderWeek(&buf, v, 40))
	assert.Contains(t, buf.String(), "No posts this week.")
}

func TestWriteWeekJSON(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeWeekJSON(&buf, weekView(t)))

	var got struct {
		Week  string
		Cells []struct {
			Date   string
			Day    int
			Hour   int
			Events []domain.CanonicalEvent
		}
	}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &got))
	assert.Equal(t, "2024-01-07", got.Week)
	require.Len(t, got.Cells, 1)
	assert.Equal(t, "2024-01-10", got.Cells[0].Date)
	assert.Equal(t, 3, got.Cells[0].Day)
	assert.Equal(t, 9, got.Cells[0].Hour)
	assert.Equal(t, "p1", got.Cells[0].Events[0].ID)
}

func TestFormatRemaining(t *testing.T) {
	assert.Equal(t, "0:00:00", formatRemaining(-time.Second))
	assert.Equal(t, "0:00:59", formatRemaining(59*time.Second+900*time.Millisecond))
	assert.Equal(t, "1:30:00", formatRemaining(90*time.Minute))
	assert.Equal(t, "2d 3:04:05", formatRemaining(51*time.Hour+4*time.Minute+5*time.Second))
}

func TestRenderCountdowns(t *testing.T) {
	ds := []countdown.Display{
		{CampaignID: "c1", Frequency: "hourly", Phase: countdown.PhaseCounting, Remaining: 25 * time.Minute},
		{CampaignID: "c2", Frequency: "daily", Phase: countdown.PhasePaused},
		{CampaignID: "c3", Frequency: "weekly", Phase: countdown.PhaseGenerating},
	}
	var buf bytes.Buffer
	require.NoError(t, renderCountdowns(&buf, ds))
	out := buf.String()
	assert.Contains(t, out, "0:25:00")
	assert.Contains(t, out, "paused")
	assert.Contains(t, out, "generating")

	assert.Len(t, filterCampaign(ds, "c2"), 1)
	assert.Len(t, filterCampaign(ds, ""), 3)
	assert.Empty(t, filterCampaign(ds, "zzz"))

	buf.Reset()
	require.NoError(t, renderCountdowns(&buf, nil))
	assert.Equal(t, "No campaigns.\n", buf.String())
}

func TestRootCommandTree(t *testing.T) {
	root := newRootCmd("test")
	names := map[string]*cobra.Command{}
	for _, c := range root.Commands() {
		names[c.Name()] = c
	}
	for _, n := range []string{"serve", "week", "countdown"} {
		require.Contains(t, names, n)
	}
	for _, n := range []string{"week", "countdown"} {
		org := names[n].Flags().Lookup("org")
		require.NotNil(t, org)
		assert.Equal(t, []string{"true"}, org.Annotations[cobra.BashCompOneRequiredFlag])
	}
	assert.NotNil(t, names["serve"].Flags().Lookup("port"))
}

func TestAppLoad_ConfigFileAndFlags(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calendar.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
backend:
  mode: http
  base_url: http://backend.test/api
calendar:
  default_timezone: Europe/Berlin
  week_start: monday
logging:
  level: warn
`), 0o600))

	a := &app{version: "test", loader: config.NewLoader(), configFile: path}
	require.NoError(t, a.load())
	assert.Equal(t, "http://backend.test/api", a.cfg.Backend.BaseURL)
	assert.Equal(t, "Europe/Berlin", a.cfg.Calendar.DefaultTimezone)
	assert.Equal(t, "monday", a.cfg.Calendar.WeekStart)
	assert.Equal(t, "warn", a.cfg.Logging.Level)
}

func TestAppLoad_InvalidConfig(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "calendar.yaml")
	require.NoError(t, os.WriteFile(path, []byte("calendar:\n  week_start: friday\n"), 0o600))

	a := &app{version: "test", loader: config.NewLoader(), configFile: path}
	err := a.load()
	require.Error(t, err)
	assert.Contains(t, err.Error(), "week_start")
}
