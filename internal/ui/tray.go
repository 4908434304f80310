// Package ui runs the optional system tray: export status, queue pause and
// quit.
package ui

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/getlantern/systray"

	"github.com/cutroom/cutroom-agent/internal/catalog"
	"github.com/cutroom/cutroom-agent/internal/logging"
)

const (
	refreshInterval = 2 * time.Second
	recentJobs      = 20
)

// Jobs lists recent export jobs, newest first.
type Jobs interface {
	List(ctx context.Context, limit int) ([]*catalog.Job, error)
}

// Queue is the export job runner.
type Queue interface {
	Pause()
	Resume()
	IsPaused() bool
}

type Tray struct {
	jobs   Jobs
	queue  Queue
	logger *slog.Logger

	statusItem *systray.MenuItem
	queueItem  *systray.MenuItem
	pauseItem  *systray.MenuItem

	mu sync.Mutex

	onOpenExports func() error
	onQuit        func()
	stop          chan struct{}
}

type TrayConfig struct {
	Jobs          Jobs
	Queue         Queue
	Logger        *slog.Logger
	OnOpenExports func() error
	OnQuit        func()
}

func NewTray(cfg TrayConfig) *Tray {
	return &Tray{
		jobs:          cfg.Jobs,
		queue:         cfg.Queue,
		logger:        logging.WithComponent(logging.Discard(cfg.Logger), "tray"),
		onOpenExports: cfg.OnOpenExports,
		onQuit:        cfg.OnQuit,
		stop:          make(chan struct{}),
	}
}

// Run blocks until the tray exits.
func (t *Tray) Run() {
	systray.Run(t.onReady, t.onExit)
}

func (t *Tray) onReady() {
	systray.SetIcon(iconBytes())
	systray.SetTitle("Cutroom")
	systray.SetTooltip("Cutroom Agent")

	t.statusItem = systray.AddMenuItem("Status: Idle", "Current export status")
	t.statusItem.Disable()

	t.queueItem = systray.AddMenuItem("Queued: 0", "Exports waiting to run")
	t.queueItem.Disable()

	systray.AddSeparator()

	t.pauseItem = systray.AddMenuItem("Pause Exports", "Stop starting queued exports")
	openItem := systray.AddMenuItem("Open Exports Folder", "Show rendered files")

	systray.AddSeparator()

	quitItem := systray.AddMenuItem("Quit", "Quit Cutroom Agent")

	go t.refreshLoop()

	go func() {
		for {
			select {
			case <-t.pauseItem.ClickedCh:
				t.togglePause()
			case <-openItem.ClickedCh:
				if t.onOpenExports != nil {
					if err := t.onOpenExports(); err != nil {
						t.logger.Error("failed to open exports folder", "error", err)
					}
				}
			case <-quitItem.ClickedCh:
				t.logger.Info("quit requested from tray")
				if t.onQuit != nil {
					t.onQuit()
				}
				systray.Quit()
				return
			}
		}
	}()

	t.logger.Info("system tray ready")
}

func (t *Tray) onExit() {
	close(t.stop)
	t.logger.Info("system tray exiting")
}

func (t *Tray) refreshLoop() {
	ticker := time.NewTicker(refreshInterval)
	defer ticker.Stop()
	for {
		t.refresh()
		select {
		case <-ticker.C:
		case <-t.stop:
			return
		}
	}
}

func (t *Tray) refresh() {
	if t.jobs == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), refreshInterval)
	defer cancel()
	jobs, err := t.jobs.List(ctx, recentJobs)
	if err != nil {
		t.logger.Warn("failed to list exports", "error", err)
		return
	}

	t.mu.Lock()
	defer t.mu.Unlock()
	summary := catalog.SummarizeJobs(jobs)
	t.statusItem.SetTitle("Status: " + statusLine(summary, t.queue != nil && t.queue.IsPaused()))
	t.queueItem.SetTitle(fmt.Sprintf("Queued: %d", summary.Pending))
}

func (t *Tray) togglePause() {
	t.mu.Lock()
	defer t.mu.Unlock()

	if t.queue == nil {
		return
	}

	if t.queue.IsPaused() {
		t.queue.Resume()
		t.pauseItem.SetTitle("Pause Exports")
		t.statusItem.SetTitle("Status: Idle")
	} else {
		t.queue.Pause()
		t.pauseItem.SetTitle("Resume Exports")
		t.statusItem.SetTitle("Status: Paused")
	}
}

// statusLine describes the export queue in one short line.
func statusLine(s catalog.QueueSummary, paused bool) string {
	switch {
	case s.Active != nil:
		return fmt.Sprintf("Exporting %d%%", s.Active.Progress)
	case paused:
		return "Paused"
	case s.LastFailed:
		return "Last export failed"
	default:
		return "Idle"
	}
}

func (t *Tray) Quit() {
	systray.Quit()
}
