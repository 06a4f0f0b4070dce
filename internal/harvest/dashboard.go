package harvest

import (
	"fmt"
	"strings"
	"time"

	"pgharvest/internal/stage"
)

const (
	stageBarWidth  = 16
	workerBarWidth = 12
)

// stageView is the dashboard's snapshot of one stage.
type stageView struct {
	Name         string
	WorkerPrefix string // "L" for list workers, "V" for detail workers
	Workers      int
	StartedAt    time.Time
	Metrics      stage.Metrics
	WorkerStats  []stage.WorkerStat
}

func progressBar(done, total, width int) string {
	filled := 0
	if total > 0 {
		filled = done * width / total
	}
	if filled > width {
		filled = width
	}
	return strings.Repeat("█", filled) + strings.Repeat("░", width-filled)
}

func percent(done, total int) int {
	if total <= 0 {
		return 0
	}
	return done * 100 / total
}

func formatETA(remaining int, rate float64) string {
	if rate <= 0 || remaining <= 0 {
		return "--"
	}
	eta := time.Duration(float64(remaining)/rate) * time.Second
	h := int(eta.Hours())
	m := int(eta.Minutes()) % 60
	return fmt.Sprintf("%dh %dm", h, m)
}

// renderDashboard builds the live status message: an overall bar, one block
// per stage, and per-worker lines with a fair-share denominator.
func renderDashboard(views []stageView, now time.Time) string {
	var totalDone, totalAll int
	for _, v := range views {
		totalDone += v.Metrics.Completed
		totalAll += v.Metrics.Total
	}

	var b strings.Builder
	fmt.Fprintf(&b, "**Harvest** %s %d%% (%d/%d)\n",
		progressBar(totalDone, totalAll, stageBarWidth), percent(totalDone, totalAll), totalDone, totalAll)

	for _, v := range views {
		m := v.Metrics
		elapsed := now.Sub(v.StartedAt).Seconds()
		rate := 0.0
		if elapsed > 0 {
			rate = float64(m.Completed) / elapsed
		}
		fmt.Fprintf(&b, "%s %s %d%% (%d/%d) ok:%d retried:%d deferred:%d errors:%d %.2f u/s ETA %s\n",
			v.Name, progressBar(m.Completed, m.Total, stageBarWidth), percent(m.Completed, m.Total),
			m.Completed, m.Total, m.OK, m.Retried, m.Deferred, m.FinalExhausted,
			rate, formatETA(m.Total-m.Completed, rate))

		fair := fairShare(m.Total, v.Workers)
		for _, w := range v.WorkerStats {
			fmt.Fprintf(&b, "%s%d %s %d/%d %s %s\n",
				v.WorkerPrefix, w.ID, progressBar(w.Done, fair, workerBarWidth),
				w.Done, fair, w.ProxyLabel, w.State)
		}
	}
	return strings.TrimRight(b.String(), "\n")
}

// fairShare is the per-worker target used as the worker bar denominator.
func fairShare(total, workers int) int {
	if workers <= 0 {
		return total
	}
	return (total + workers - 1) / workers
}
