// Package reporter implements component I: a pure observer that snapshots
// the Strategy's open positions and logs a periodic health line, plus a
// dry-run trade log method (LogSimulationTrade). The orchestrator does not
// call LogSimulationTrade; dry-run orders are logged by the Executor.
//
// Grounded on original_source/src/reporting.py's DailyReporter.log_health
// (CPU%, RSS MB, active-position count, per-position entry/peak) and
// log_simulation_trade. CPU/RSS collection uses
// github.com/shirou/gopsutil/process, the same library the broader example
// pack (ChoSanghyuk-blackholedex) carries for process metrics — the
// teacher itself has no equivalent, so this is a fresh component built in
// the corpus's idiom rather than the teacher's.
//
// calculate_daily_pnl is intentionally not carried over: its own source
// comment marks it "Calculation pending log format update" — never
// finished upstream, and nothing in this spec depends on it.
package reporter

import (
	"context"
	"log/slog"
	"os"

	"github.com/shirou/gopsutil/process"

	"github.com/bjoelf/saxotrader/internal/domain"
)

// PositionSource is the slice of Strategy the Reporter depends on.
type PositionSource interface {
	Positions() map[domain.UIC]domain.Position
}

// Reporter is a pure observer: it mutates nothing, not even position state.
type Reporter struct {
	positions PositionSource
	logger    *slog.Logger
	proc      *process.Process
}

// New builds a Reporter bound to the current process for CPU/RSS sampling.
func New(positions PositionSource, logger *slog.Logger) *Reporter {
	proc, err := process.NewProcess(int32(os.Getpid()))
	if err != nil {
		logger.Warn("reporter: failed to attach to own process for metrics", "error", err)
		proc = nil
	}
	return &Reporter{positions: positions, logger: logger, proc: proc}
}

// LogHealth emits one structured health line (spec §4.I): CPU%, RSS MB,
// open-position count, and each position's entry/peak price.
func (r *Reporter) LogHealth(_ context.Context) {
	var cpuPct float64
	var rssMB float64
	if r.proc != nil {
		if pct, err := r.proc.CPUPercent(); err == nil {
			cpuPct = pct
		}
		if mem, err := r.proc.MemoryInfo(); err == nil && mem != nil {
			rssMB = float64(mem.RSS) / 1024 / 1024
		}
	}

	positions := r.positions.Positions()
	tracking := make([]any, 0, len(positions)*3)
	for uic, pos := range positions {
		tracking = append(tracking, "uic", uic, "entry", pos.EntryPrice, "peak", pos.PeakPrice)
	}

	args := []any{"cpu_pct", cpuPct, "rss_mb", rssMB, "open_positions", len(positions)}
	args = append(args, tracking...)
	r.logger.Info("health check", args...)
}

// LogSimulationTrade logs one dry-run trade decision (spec §4.I
// `log_simulation_trade`). Nothing in the orchestrator calls it.
func (r *Reporter) LogSimulationTrade(side domain.Side, uic domain.UIC, price float64, reason string) {
	r.logger.Info("simulation trade", "side", side, "uic", uic, "price", price, "reason", reason)
}
