package exsearch

import (
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
)

// Progress is a point-in-time snapshot of a running search.
type Progress struct {
	Processed int64
	Total     int64
	Rate      float64
	ETA       time.Duration
	Elapsed   time.Duration
}

// Progress reports the current counters. Safe to call from any
// goroutine while Run is active.
func (e *Engine) Progress() Progress {
	p := Progress{
		Processed: e.processed.Load(),
		Total:     e.total.Load(),
	}
	startNano := e.startNano.Load()
	if startNano == 0 {
		return p
	}
	p.Elapsed = time.Since(time.Unix(0, startNano))
	if p.Elapsed > 0 {
		p.Rate = float64(p.Processed) / p.Elapsed.Seconds()
	}
	remaining := p.Total - p.Processed
	if p.Rate > 0 && remaining > 0 {
		p.ETA = time.Duration(float64(remaining)/p.Rate) * time.Second
	}
	return p
}

// logProgress emits periodic snapshots off the hot path until done
// closes.
func (e *Engine) logProgress(done <-chan struct{}) {
	ticker := time.NewTicker(e.cfg.ProgressInterval)
	defer ticker.Stop()
	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			p := e.Progress()
			e.cfg.Logger.Info("search progress",
				"processed", humanize.Comma(p.Processed),
				"total", humanize.Comma(p.Total),
				"rate_per_sec", p.Rate,
				"eta", p.ETA.Round(time.Second).String())
		}
	}
}

// InstallSignalHandler wires SIGINT/SIGTERM to the cooperative stop
// flag. The returned release function detaches the handler.
func (e *Engine) InstallSignalHandler() func() {
	ch := make(chan os.Signal, 1)
	signal.Notify(ch, os.Interrupt, syscall.SIGTERM)
	done := make(chan struct{})
	go func() {
		select {
		case sig := <-ch:
			e.cfg.Logger.Info("signal received, stopping after in-flight evaluations", "signal", sig.String())
			e.Stop()
		case <-done:
		}
	}()
	return func() {
		signal.Stop(ch)
		close(done)
	}
}
