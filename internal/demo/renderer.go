package demo

import (
	"context"
	"fmt"
	"os"
	"strings"
	"time"
)

// Renderer draws one cell per worker plus a sidebar of aggregate
// contention stats in the terminal using ANSI truecolor.
type Renderer struct {
	Config  *Config
	Stats   *Stats
	start   time.Time
	Actions chan byte
}

// NewRenderer creates a renderer for the given config and live stats.
func NewRenderer(cfg *Config, stats *Stats) *Renderer {
	return &Renderer{
		Config:  cfg,
		Stats:   stats,
		start:   time.Now(),
		Actions: make(chan byte, 16),
	}
}

// FPS the renderer redraws at.
const defaultFPS = 10

// Start runs the renderer loop until ctx is cancelled.
func (r *Renderer) Start(ctx context.Context) {
	if isTerminal(terminalFd()) {
		go r.readKeys(ctx)
	}

	ticker := time.NewTicker(time.Second / defaultFPS)
	defer ticker.Stop()

	fmt.Print("\033[?25l")

	for {
		select {
		case <-ctx.Done():
			fmt.Print("\033[?25h\033[0m")
			return
		case <-ticker.C:
			r.draw()
		}
	}
}

func (r *Renderer) readKeys(ctx context.Context) {
	fd := terminalFd()
	oldState, err := makeRaw(fd)
	if err != nil {
		return
	}
	defer restoreTerminal(fd, oldState)

	buf := make([]byte, 1)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := os.Stdin.Read(buf)
		if err != nil || n == 0 {
			return
		}
		select {
		case r.Actions <- buf[0]:
		default:
		}
	}
}

func (r *Renderer) draw() {
	snap := r.Stats.snapshot()

	cols := gridColumns(len(snap.Cells))
	rows := (len(snap.Cells) + cols - 1) / cols

	var buf strings.Builder
	buf.Grow(cols*rows*30 + 500)

	buf.WriteString("\033[H")

	elapsed := time.Since(r.start).Truncate(time.Millisecond)
	header := fmt.Sprintf(" RWLOCK DEMO  %q  %d readers / %d writers  %s", r.Config.Name, r.Config.Readers, r.Config.Writers, elapsed)
	buf.WriteString("\033[1;37;44m")
	buf.WriteString(header)
	if len(header) < cols*2+30 {
		buf.WriteString(strings.Repeat(" ", cols*2+30-len(header)))
	}
	buf.WriteString("\033[0m\n")

	sidebar := buildSidebar(snap, elapsed, r.Config)

	for y := 0; y < rows; y++ {
		for x := 0; x < cols; x++ {
			idx := y*cols + x
			if idx >= len(snap.Cells) {
				buf.WriteString("    ")
				continue
			}
			buf.WriteString(cellANSI(idx, snap.Cells[idx], r.Config.Seed))
		}
		buf.WriteString("  ")
		if y < len(sidebar) {
			buf.WriteString(sidebar[y])
		}
		buf.WriteString("\033[K\n")
	}

	for i := 0; i < 3; i++ {
		buf.WriteString("\033[K\n")
	}

	fmt.Print(buf.String())
}

// cellANSI renders one worker's cell. Idle cells are dark gray; waiting
// cells show the worker's deterministic color at one-third brightness,
// marked ".."; held cells render full brightness, marked with a bold "XX"
// for exclusive grants and "rr" for shared grants.
func cellANSI(i int, state WorkerState, seed uint64) string {
	c := TileColor(i, seed)
	switch state {
	case StateIdle:
		return "\033[48;2;30;30;30m  \033[0m"
	case StateWaitingExclusive, StateWaitingShared:
		return fmt.Sprintf("\033[48;2;%d;%d;%dm..\033[0m", c[0]/3, c[1]/3, c[2]/3)
	case StateHeldExclusive:
		return fmt.Sprintf("\033[48;2;%d;%d;%dm\033[1mXX\033[0m", c[0], c[1], c[2])
	case StateHeldShared:
		return fmt.Sprintf("\033[48;2;%d;%d;%dmrr\033[0m", c[0], c[1], c[2])
	default:
		return "  "
	}
}

func gridColumns(n int) int {
	cols := 1
	for cols*cols < n {
		cols++
	}
	return cols
}

func buildSidebar(snap Snapshot, elapsed time.Duration, cfg *Config) []string {
	lines := []string{
		fmt.Sprintf("\033[1mLock\033[0m        %s", cfg.Name),
		fmt.Sprintf("\033[1mWorkers\033[0m     %d readers / %d writers", cfg.Readers, cfg.Writers),
		fmt.Sprintf("\033[1mExclusive\033[0m   %d acquired", snap.AcquiredExclusive),
		fmt.Sprintf("\033[1mShared\033[0m      %d acquired", snap.AcquiredShared),
		fmt.Sprintf("\033[1mBlocked\033[0m     %d", snap.Blocked),
		fmt.Sprintf("\033[1mElapsed\033[0m     %s", elapsed.Truncate(time.Second)),
		"",
		"\033[1mKeys\033[0m  q=quit",
		"",
	}

	if len(snap.Events) > 0 {
		lines = append(lines, "\033[1mEvents\033[0m")
		for _, e := range snap.Events {
			lines = append(lines, "  "+e)
		}
	}

	return lines
}
