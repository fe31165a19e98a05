package commands

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/wolfeidau/deskpool/internal/client"
	"github.com/wolfeidau/deskpool/internal/models"
)

type ListCmd struct {
	ClientFlags `embed:""`

	Watch    bool          `help:"Watch for changes" default:"false"`
	Interval time.Duration `help:"Refresh interval when watching" default:"5s"`
}

func (l *ListCmd) Run(ctx context.Context, globals *Globals) error {
	clients, err := l.clients(globals)
	if err != nil {
		return err
	}

	if l.Watch {
		return watch(ctx, globals.Out, l.Interval, "Sessions", func() error {
			return l.listSessions(ctx, globals.Out, clients)
		})
	}

	return l.listSessions(ctx, globals.Out, clients)
}

func (l *ListCmd) listSessions(ctx context.Context, w io.Writer, clients *client.Clients) error {
	list, err := clients.Sessions.List(ctx)
	if err != nil {
		return describeError("list sessions", err)
	}

	if l.JSON {
		return printJSON(w, list)
	}

	printSessions(w, list)
	return nil
}

func printSessions(w io.Writer, list *models.SessionList) {
	fmt.Fprintf(w, "Sessions: %d/%d (available: %d)\n", list.Total, list.Max, list.Available)

	if len(list.Sessions) == 0 {
		fmt.Fprintln(w, "No sessions found.")
		return
	}

	fmt.Fprintf(w, "%-36s %-20s %-8s %-10s %-20s\n", "Session ID", "Owner", "Display", "Status", "Created At")
	fmt.Fprintln(w, strings.Repeat("─", 98))

	for _, s := range list.Sessions {
		// Truncate long owner names
		owner := s.OwnerID
		if len(owner) > 20 {
			owner = owner[:17] + "..."
		}

		fmt.Fprintf(w, "%-36s %-20s %-8s %-10s %-20s\n",
			s.SessionID,
			owner,
			fmt.Sprintf(":%d", s.Display),
			s.Status,
			s.CreatedAt.Local().Format("2006-01-02 15:04:05"))
	}
}

type StatsCmd struct {
	ClientFlags `embed:""`

	Watch    bool          `help:"Watch for changes" default:"false"`
	Interval time.Duration `help:"Refresh interval when watching" default:"5s"`
}

func (s *StatsCmd) Run(ctx context.Context, globals *Globals) error {
	clients, err := s.clients(globals)
	if err != nil {
		return err
	}

	show := func() error {
		stats, err := clients.Sessions.Stats(ctx)
		if err != nil {
			return describeError("get stats", err)
		}
		if s.JSON {
			return printJSON(globals.Out, stats)
		}
		printStats(globals.Out, stats)
		return nil
	}

	if s.Watch {
		return watch(ctx, globals.Out, s.Interval, "Stats", show)
	}
	return show()
}

func printStats(w io.Writer, stats *models.Stats) {
	fmt.Fprintf(w, "CPU:      %5.1f%%\n", stats.CPUPercent)
	fmt.Fprintf(w, "Memory:   %5.1f%%\n", stats.MemoryPercent)
	fmt.Fprintf(w, "Sessions: %d/%d\n", stats.ActiveSessions, stats.MaxSessions)

	if len(stats.Pools) == 0 {
		return
	}

	fmt.Fprintln(w)
	fmt.Fprintf(w, "%-10s %6s %6s %6s\n", "Pool", "Size", "Held", "Free")
	fmt.Fprintln(w, strings.Repeat("─", 31))
	for _, p := range stats.Pools {
		fmt.Fprintf(w, "%-10s %6d %6d %6d\n", p.Name, p.Size, p.Held, p.Free)
	}
}

type HealthCmd struct {
	ClientFlags `embed:""`
}

func (h *HealthCmd) Run(ctx context.Context, globals *Globals) error {
	clients, err := h.clients(globals)
	if err != nil {
		return err
	}

	health, err := clients.Sessions.Health(ctx)
	if err != nil {
		return describeError("check health", err)
	}

	if h.JSON {
		return printJSON(globals.Out, health)
	}

	fmt.Fprintf(globals.Out, "Status:             %s\n", health.Status)
	fmt.Fprintf(globals.Out, "Active sessions:    %d\n", health.ActiveSessions)
	fmt.Fprintf(globals.Out, "Available displays: %d\n", health.AvailableDisplays)
	fmt.Fprintf(globals.Out, "Checked at:         %s\n", health.Timestamp.Local().Format(time.RFC3339))
	return nil
}

// watch redraws the output of show every interval until ctx is cancelled.
func watch(ctx context.Context, w io.Writer, interval time.Duration, title string, show func() error) error {
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Fprintf(w, "Watching %s (press Ctrl+C to stop)...\n\n", strings.ToLower(title))

	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	// Print initial state
	if err := show(); err != nil {
		return err
	}

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			fmt.Fprint(w, "\033[2J\033[H") // Clear screen and move cursor to top
			fmt.Fprintf(w, "%s (updated at %s)\n\n", title, time.Now().Format("15:04:05"))

			if err := show(); err != nil {
				fmt.Fprintf(w, "Error updating %s: %v\n", strings.ToLower(title), err)
			}
		}
	}
}
