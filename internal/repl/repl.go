package repl

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"sort"
	"strconv"
	"strings"
	"sync"

	"github.com/IshaanNene/phonegoat/internal/session"
	"github.com/IshaanNene/phonegoat/internal/settings"
	"github.com/IshaanNene/phonegoat/internal/types"
)

// Runner executes one end-to-end pass.
type Runner interface {
	Run(ctx context.Context, opts session.Options) (*session.Report, error)
}

// StatsSource exposes the counters printed by "stats".
type StatsSource interface {
	Snapshot() map[string]int64
}

// REPL provides an interactive shell over the settings and the run loop.
type REPL struct {
	runner   Runner
	settings *settings.Provider
	stats    StatsSource
	logger   *slog.Logger
	reader   *bufio.Reader

	outMu sync.Mutex
	out   io.Writer

	mu      sync.Mutex
	cancel  context.CancelFunc
	done    chan struct{}
	last    *session.Report
	lastErr error
}

// New creates a new REPL instance reading commands from in.
func New(runner Runner, st *settings.Provider, stats StatsSource, in io.Reader, out io.Writer, logger *slog.Logger) *REPL {
	return &REPL{
		runner:   runner,
		settings: st,
		stats:    stats,
		logger:   logger.With("component", "repl"),
		reader:   bufio.NewReader(in),
		out:      out,
	}
}

// Start runs the command loop until "exit", end of input or ctx is done.
// A run still in progress is cancelled and awaited before Start returns.
func (r *REPL) Start(ctx context.Context) {
	r.printf("PhoneGoat interactive shell\n")
	r.printf("   Type 'help' for available commands, 'exit' to quit.\n\n")
	defer r.stopRun()

	for ctx.Err() == nil {
		r.printf("phonegoat> ")
		line, err := r.reader.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			if !r.dispatch(ctx, line) {
				return
			}
		}
		if err != nil {
			return
		}
	}
}

func (r *REPL) dispatch(ctx context.Context, line string) bool {
	parts := strings.Fields(line)
	cmd, args := parts[0], parts[1:]

	var err error
	switch cmd {
	case "help", "?":
		r.printHelp()
	case "exit", "quit", "q":
		r.printf("Bye.\n")
		return false
	case "status", "settings":
		err = r.cmdStatus(ctx)
	case "region":
		err = r.cmdRegion(ctx, args)
	case "rooms":
		err = r.cmdRooms(ctx, args)
	case "floors":
		err = r.cmdFloors(ctx, args)
	case "prices":
		err = r.cmdPrices(ctx, args)
	case "authors":
		err = r.cmdAuthors(ctx, args)
	case "autoparse":
		err = r.cmdAutoParse(ctx, args)
	case "reset":
		err = r.settings.Reset(ctx)
		if err == nil {
			r.printf("Settings restored to defaults.\n")
		}
	case "run":
		err = r.cmdRun(ctx, args)
	case "stop":
		r.cmdStop()
	case "report":
		r.cmdReport()
	case "stats":
		r.cmdStats()
	default:
		r.printf("Unknown command: %s. Type 'help' for available commands.\n", cmd)
	}

	if err != nil {
		r.printf("Error: %v\n", err)
	}
	return true
}

func (r *REPL) printHelp() {
	r.printf(`
Available Commands:
  status                     Show the current search settings
  region <name> <id>         Set the search region
  rooms <list>               Set room counts (e.g. rooms 1,2,3)
  floors <min|-> <max|->     Set floor lists, '-' clears (e.g. floors 2 9,12)
  prices <min|-> <max|->     Set the price range, '-' clears
  authors <list>             Set author types (developer,realtor,real_estate_agent,homeowner)
  autoparse on|off           Switch scheduled runs on or off
  reset                      Restore default settings

  run [max] [fresh]          Start a run in the background
  stop                       Cancel the running pass
  report                     Show the last run's report
  stats                      Show resolution counters

  help                       Show this help
  exit                       Exit the shell
`)
}

func (r *REPL) cmdStatus(ctx context.Context) error {
	v, err := r.settings.Current(ctx)
	if err != nil {
		return err
	}
	r.outMu.Lock()
	defer r.outMu.Unlock()
	WriteSettings(r.out, v)
	return nil
}

func (r *REPL) cmdRegion(ctx context.Context, args []string) error {
	if len(args) < 2 {
		r.printf("Usage: region <name> <id>\n")
		return nil
	}
	reg := types.Region{Name: strings.Join(args[:len(args)-1], " "), ID: args[len(args)-1]}
	if err := r.settings.SetRegion(ctx, reg); err != nil {
		return err
	}
	r.printf("  Region set to %s (ID: %s)\n", reg.Name, reg.ID)
	return nil
}

func (r *REPL) cmdRooms(ctx context.Context, args []string) error {
	if len(args) != 1 {
		r.printf("Usage: rooms <list>\n")
		return nil
	}
	rooms, err := settings.ParseIntList(args[0])
	if err != nil {
		return err
	}
	if err := r.settings.SetRooms(ctx, rooms); err != nil {
		return err
	}
	r.printf("  Rooms set to %s\n", JoinInts(rooms))
	return nil
}

func (r *REPL) cmdFloors(ctx context.Context, args []string) error {
	if len(args) != 2 {
		r.printf("Usage: floors <min|-> <max|->\n")
		return nil
	}
	lo, err := settings.ParseIntList(clearable(args[0]))
	if err != nil {
		return err
	}
	hi, err := settings.ParseIntList(clearable(args[1]))
	if err != nil {
		return err
	}
	if err := r.settings.SetFloors(ctx, lo, hi); err != nil {
		return err
	}
	r.printf("  Floors set to %s .. %s\n", orUnset(JoinInts(lo)), orUnset(JoinInts(hi)))
	return nil
}

func (r *REPL) cmdPrices(ctx context.Context, args []string) error {
	if len(args) != 2 {
		r.printf("Usage: prices <min|-> <max|->\n")
		return nil
	}
	lo, err := ParsePrice(clearable(args[0]))
	if err != nil {
		return err
	}
	hi, err := ParsePrice(clearable(args[1]))
	if err != nil {
		return err
	}
	if err := r.settings.SetPrices(ctx, lo, hi); err != nil {
		return err
	}
	r.printf("  Prices set to %s .. %s\n", FormatPrice(lo), FormatPrice(hi))
	return nil
}

func (r *REPL) cmdAuthors(ctx context.Context, args []string) error {
	if len(args) != 1 {
		r.printf("Usage: authors <list>\n")
		return nil
	}
	cats, err := ParseCategories(args[0])
	if err != nil {
		return err
	}
	if err := r.settings.SetAuthorTypes(ctx, cats); err != nil {
		return err
	}
	r.printf("  Author types set to %s\n", categoryLabels(cats))
	return nil
}

func (r *REPL) cmdAutoParse(ctx context.Context, args []string) error {
	if len(args) != 1 || (args[0] != "on" && args[0] != "off") {
		r.printf("Usage: autoparse on|off\n")
		return nil
	}
	if err := r.settings.SetAutoParse(ctx, args[0] == "on"); err != nil {
		return err
	}
	r.printf("  Auto parse %s\n", args[0])
	return nil
}

func (r *REPL) cmdRun(ctx context.Context, args []string) error {
	var opts session.Options
	for _, a := range args {
		if a == "fresh" {
			opts.Fresh = true
			continue
		}
		n, err := strconv.Atoi(a)
		if err != nil || n < 0 {
			r.printf("Usage: run [max] [fresh]\n")
			return nil
		}
		opts.MaxPhones = n
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.done != nil {
		r.printf("A run is already in progress. Use 'stop' to cancel it.\n")
		return nil
	}

	runCtx, cancel := context.WithCancel(ctx)
	done := make(chan struct{})
	r.cancel, r.done = cancel, done

	go func() {
		defer close(done)
		defer cancel()
		rep, err := r.runner.Run(runCtx, opts)

		switch {
		case errors.Is(err, types.ErrNoListings):
			r.printf("\nNo listings for the selected author types.\n")
		case err != nil:
			r.logger.Error("run failed", "error", err)
			r.printf("\nRun failed: %v\n", err)
		default:
			r.printf("\nRun complete: %d/%d phones, report %s\n", rep.Success, rep.Total, rep.Path)
		}

		r.mu.Lock()
		r.last, r.lastErr = rep, err
		r.cancel, r.done = nil, nil
		r.mu.Unlock()
	}()

	r.printf("Run started in background. Use 'stats' to check progress, 'stop' to halt.\n")
	return nil
}

func (r *REPL) cmdStop() {
	r.mu.Lock()
	cancel := r.cancel
	r.mu.Unlock()
	if cancel == nil {
		r.printf("No run in progress.\n")
		return
	}
	cancel()
	r.printf("Stopping...\n")
}

// stopRun cancels any active run and waits for it to finish.
func (r *REPL) stopRun() {
	r.mu.Lock()
	cancel, done := r.cancel, r.done
	r.mu.Unlock()
	if done == nil {
		return
	}
	cancel()
	<-done
}

func (r *REPL) cmdReport() {
	r.mu.Lock()
	rep, err, running := r.last, r.lastErr, r.done != nil
	r.mu.Unlock()

	if running {
		r.printf("A run is in progress.\n")
	}
	if rep == nil {
		if err != nil {
			r.printf("Last run failed: %v\n", err)
		} else if !running {
			r.printf("No run has finished yet.\n")
		}
		return
	}

	r.outMu.Lock()
	defer r.outMu.Unlock()
	if err := rep.Render(r.out); err != nil {
		r.logger.Warn("render report", "error", err)
	}
}

func (r *REPL) cmdStats() {
	if r.stats == nil {
		r.printf("No statistics available.\n")
		return
	}
	snap := r.stats.Snapshot()
	keys := make([]string, 0, len(snap))
	for k := range snap {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		r.printf("  %-20s %d\n", k, snap[k])
	}
}

func (r *REPL) printf(format string, args ...any) {
	r.outMu.Lock()
	defer r.outMu.Unlock()
	fmt.Fprintf(r.out, format, args...)
}

func clearable(s string) string {
	if s == "-" {
		return ""
	}
	return s
}
