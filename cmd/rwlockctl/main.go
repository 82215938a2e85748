// Command rwlockctl is a thin CLI front-end over the rwlock core: it
// parses flags, opens a store connection, and drives one Handle
// operation. It contains no protocol logic of its own.
package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"math/rand"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/nikolasavic/rwlockd/internal/audit"
	"github.com/nikolasavic/rwlockd/internal/config"
	"github.com/nikolasavic/rwlockd/internal/demo"
	"github.com/nikolasavic/rwlockd/internal/doctor"
	"github.com/nikolasavic/rwlockd/internal/store"
	"github.com/nikolasavic/rwlockd/rwlock"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
)

// Exit codes
const (
	ExitOK    = 0
	ExitError = 1
	ExitUsage = 64
)

const defaultNamespace = "rwlock"

func main() {
	if len(os.Args) < 2 {
		usage()
		os.Exit(ExitUsage)
	}

	top := flag.NewFlagSet("rwlockctl", flag.ContinueOnError)
	url := top.String("url", "", "Store connection URL (overrides RWLOCK_URL)")
	namespace := top.String("namespace", "", "Key namespace (overrides RWLOCK_NAMESPACE)")
	debug := top.Bool("debug", false, "Enable verbose store logging")

	cmd, args := splitCommand(os.Args[1:])
	if err := top.Parse(args); err != nil {
		os.Exit(ExitUsage)
	}
	cmdArgs := top.Args()

	var code int
	switch cmd {
	case "version":
		fmt.Printf("rwlockctl %s (commit: %s, built: %s)\n", version, commit, date)
	case "exclusive":
		code = cmdAcquire(*url, *namespace, *debug, cmdArgs, true)
	case "shared":
		code = cmdAcquire(*url, *namespace, *debug, cmdArgs, false)
	case "flush":
		code = cmdFlush(*url, *namespace, *debug, cmdArgs)
	case "info":
		code = cmdInfo(*url, *namespace, *debug, cmdArgs)
	case "doctor":
		code = cmdDoctor(*url, *namespace, *debug, cmdArgs)
	case "audit":
		code = cmdAudit(cmdArgs)
	case "demo":
		code = cmdDemo(*url, *namespace, *debug, cmdArgs)
	case "help", "-h", "--help":
		usage()
	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", cmd)
		usage()
		code = ExitUsage
	}
	os.Exit(code)
}

// splitCommand pulls the subcommand name out of args so top-level flags
// may appear either before or after it.
func splitCommand(args []string) (string, []string) {
	for i := 0; i < len(args); i++ {
		a := args[i]
		switch a {
		case "--url", "-url", "--namespace", "-namespace":
			// The next argument is this flag's value, not the command.
			i++
			continue
		}
		if len(a) > 0 && a[0] != '-' {
			rest := make([]string, 0, len(args)-1)
			rest = append(rest, args[:i]...)
			rest = append(rest, args[i+1:]...)
			return a, rest
		}
	}
	if len(args) > 0 {
		return args[0], args[1:]
	}
	return "", nil
}

func usage() {
	fmt.Println("rwlockctl - distributed reader/writer lock client")
	fmt.Println()
	fmt.Println("Usage: rwlockctl [--url URL] [--namespace NS] [--debug] <command> [options] [args]")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  exclusive <name>   Acquire the exclusive grant, hold for --ttl, release")
	fmt.Println("    --ttl duration         Hold/TTL duration (default 5s)")
	fmt.Println("    --retry-count n        Max BLOCKED retries (default 3)")
	fmt.Println("    --retry-delay duration Delay between retries (default 200ms)")
	fmt.Println("  shared <name>      Acquire the shared grant, hold for --ttl, release")
	fmt.Println("    (same flags as exclusive)")
	fmt.Println("  flush <name>       Delete all four keys for name")
	fmt.Println("  info <name>        Print exclusive holder, waiting and shared sets")
	fmt.Println("  doctor             Run store connectivity diagnostics")
	fmt.Println("    --json                 Output in JSON format")
	fmt.Println("  audit              Tail/filter the local JSONL audit log")
	fmt.Println("    --since duration|ts    Show events since (e.g. 1h, 2026-01-27T10:00:00Z)")
	fmt.Println("    --name lock            Filter by lock name")
	fmt.Println("  demo <name>        Run the live contention visualizer")
	fmt.Println("    --readers n            Reader worker count (default 3)")
	fmt.Println("    --writers n            Writer worker count (default 1)")
	fmt.Println("    --ttl duration         Per-acquisition TTL (default 2s)")
	fmt.Println("    --duration duration    Run length (default 30s)")
	fmt.Println("  version            Show version info")
	fmt.Println()
	fmt.Println("Exit codes:")
	fmt.Println("  0  Success")
	fmt.Println("  1  Error (lock not obtained, store unreachable, etc.)")
}

func openStore(url, namespace string, debug bool) (*store.Store, string, error) {
	resolvedURL, _ := config.StoreURL(url)
	resolvedNS := config.Namespace(namespace)
	if resolvedNS == "" {
		resolvedNS = defaultNamespace
	}

	var opts []store.Option
	if debug {
		opts = append(opts, store.WithLogger(newDebugLogger()))
	}

	st, err := store.Open(resolvedURL, opts...)
	if err != nil {
		return nil, "", fmt.Errorf("open store %q: %w", resolvedURL, err)
	}
	return st, resolvedNS, nil
}

func newDebugLogger() *zap.Logger {
	cfg := zap.NewDevelopmentConfig()
	cfg.DisableStacktrace = true
	log, err := cfg.Build()
	if err != nil {
		return zap.NewNop()
	}
	return log
}

func newAuditor() *audit.Writer {
	dir, err := config.AuditDir()
	if err != nil {
		return nil
	}
	if err := config.EnsureAuditDir(dir); err != nil {
		return nil
	}
	return audit.NewWriter(dir)
}

func cmdAcquire(url, namespace string, debug bool, args []string, exclusive bool) int {
	fsName := "exclusive"
	if !exclusive {
		fsName = "shared"
	}
	fs := flag.NewFlagSet(fsName, flag.ContinueOnError)
	ttl := fs.Duration("ttl", 5*time.Second, "Hold/TTL duration")
	retryCount := fs.Int("retry-count", rwlock.DefaultRetryCount, "Max BLOCKED retries")
	retryDelay := fs.Duration("retry-delay", rwlock.DefaultRetryDelay, "Delay between retries")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	if fs.NArg() < 1 {
		fmt.Fprintf(os.Stderr, "usage: rwlockctl %s [--ttl duration] [--retry-count n] [--retry-delay duration] <name>\n", fsName)
		return ExitUsage
	}
	name := fs.Arg(0)

	st, ns, err := openStore(url, namespace, debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitError
	}
	defer func() { _ = st.Close() }()

	handle, err := rwlock.New(st, ns, name, rwlock.Options{
		RetryCount: *retryCount,
		RetryDelay: *retryDelay,
		Auditor:    newAuditor(),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitUsage
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if exclusive {
		err = handle.AcquireExclusive(ctx, *ttl)
	} else {
		err = handle.AcquireShared(ctx, *ttl)
	}
	if err != nil {
		var cannot *rwlock.CannotObtainLockError
		if errors.As(err, &cannot) {
			fmt.Fprintf(os.Stderr, "error: %v\n", cannot)
			return ExitError
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitError
	}

	fmt.Printf("acquired %s grant for %q\n", fsName, name)

	select {
	case <-ctx.Done():
	case <-time.After(*ttl):
	}

	if err := handle.Release(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error releasing: %v\n", err)
		return ExitError
	}
	fmt.Printf("released %q\n", name)
	return ExitOK
}

func cmdFlush(url, namespace string, debug bool, args []string) int {
	fs := flag.NewFlagSet("flush", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: rwlockctl flush <name>")
		return ExitUsage
	}
	name := fs.Arg(0)

	st, ns, err := openStore(url, namespace, debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitError
	}
	defer func() { _ = st.Close() }()

	handle, err := rwlock.New(st, ns, name, rwlock.Options{Auditor: newAuditor()})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitUsage
	}

	if err := handle.Flush(context.Background()); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitError
	}

	fmt.Printf("flushed %q\n", name)
	return ExitOK
}

func cmdInfo(url, namespace string, debug bool, args []string) int {
	fs := flag.NewFlagSet("info", flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: rwlockctl info [--json] <name>")
		return ExitUsage
	}
	name := fs.Arg(0)

	st, ns, err := openStore(url, namespace, debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitError
	}
	defer func() { _ = st.Close() }()

	handle, err := rwlock.New(st, ns, name, rwlock.Options{})
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitUsage
	}

	info, err := handle.Info(context.Background())
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitError
	}

	if *jsonOutput {
		data, _ := json.MarshalIndent(info, "", "  ")
		fmt.Println(string(data))
		return ExitOK
	}

	fmt.Printf("name:              %s\n", info.Name)
	fmt.Printf("state:             %s\n", info.State())
	if info.ExclusiveHolder != "" {
		fmt.Printf("exclusive holder:  %s\n", info.ExclusiveHolder)
	} else {
		fmt.Println("exclusive holder:  (none)")
	}
	fmt.Printf("exclusive waiting: %d\n", len(info.ExclusiveWaiting))
	fmt.Printf("shared holders:    %d\n", len(info.Shared))
	fmt.Printf("shared waiting:    %d\n", len(info.SharedWaiting))
	return ExitOK
}

func cmdDoctor(url, namespace string, debug bool, args []string) int {
	fs := flag.NewFlagSet("doctor", flag.ContinueOnError)
	jsonOutput := fs.Bool("json", false, "Output in JSON format")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	st, ns, err := openStore(url, namespace, debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitError
	}
	defer func() { _ = st.Close() }()

	results := doctor.RunAll(context.Background(), st, ns)
	overall := doctor.Overall(results)

	if *jsonOutput {
		output := struct {
			Namespace string               `json:"namespace"`
			Checks    []doctor.CheckResult `json:"checks"`
			Overall   doctor.Status        `json:"overall"`
		}{Namespace: ns, Checks: results, Overall: overall}
		data, _ := json.MarshalIndent(output, "", "  ")
		fmt.Println(string(data))
	} else {
		fmt.Println("rwlockctl doctor")
		fmt.Println()
		fmt.Printf("Namespace: %s\n", ns)
		fmt.Println()
		fmt.Println("Checks:")
		for _, r := range results {
			printCheckResult(r)
		}
		fmt.Println()
		fmt.Printf("Result: %s\n", overallDescription(overall))
	}

	if overall == doctor.StatusFail {
		return ExitError
	}
	return ExitOK
}

func printCheckResult(r doctor.CheckResult) {
	var marker string
	switch r.Status {
	case doctor.StatusOK:
		marker = "[OK]"
	case doctor.StatusWarn:
		marker = "[WARN]"
	case doctor.StatusFail:
		marker = "[FAIL]"
	}

	displayNames := map[string]string{
		"ping":           "Store reachable",
		"clock_skew":     "Clock skew",
		"scriptable":     "Scripting permitted",
		"namespace_free": "Namespace collision",
	}
	displayName := displayNames[r.Name]
	if displayName == "" {
		displayName = r.Name
	}

	fmt.Printf("  %-6s %s\n", marker, displayName)
	if r.Message != "" {
		fmt.Printf("         %s\n", r.Message)
	}
}

func overallDescription(s doctor.Status) string {
	switch s {
	case doctor.StatusOK:
		return "PASS"
	case doctor.StatusWarn:
		return "PASS with warnings"
	case doctor.StatusFail:
		return "FAIL"
	default:
		return "UNKNOWN"
	}
}

func cmdAudit(args []string) int {
	fs := flag.NewFlagSet("audit", flag.ContinueOnError)
	since := fs.String("since", "", "Show events since duration (1h, 30m) or RFC3339 timestamp")
	name := fs.String("name", "", "Filter by lock name")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}

	var sinceTime time.Time
	if *since != "" {
		t, err := parseSince(*since)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: invalid --since value %q: %v\n", *since, err)
			return ExitUsage
		}
		sinceTime = t
	}

	dir, err := config.AuditDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitError
	}

	f, err := os.Open(filepath.Join(dir, "audit.log"))
	if err != nil {
		if os.IsNotExist(err) {
			return ExitOK
		}
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitError
	}
	defer func() { _ = f.Close() }()

	scanner := bufio.NewScanner(f)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		var event audit.Event
		if err := json.Unmarshal(line, &event); err != nil {
			continue
		}
		if !sinceTime.IsZero() && event.Timestamp.Before(sinceTime) {
			continue
		}
		if *name != "" && event.Name != *name {
			continue
		}
		fmt.Println(string(line))
	}
	if err := scanner.Err(); err != nil {
		fmt.Fprintf(os.Stderr, "error reading audit log: %v\n", err)
		return ExitError
	}
	return ExitOK
}

func parseSince(s string) (time.Time, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return time.Now().Add(-d), nil
	}
	if t, err := time.Parse(time.RFC3339, s); err == nil {
		return t, nil
	}
	return time.Time{}, fmt.Errorf("not a valid duration or RFC3339 timestamp")
}

func cmdDemo(url, namespace string, debug bool, args []string) int {
	fs := flag.NewFlagSet("demo", flag.ContinueOnError)
	readers := fs.Int("readers", 3, "Reader worker count")
	writers := fs.Int("writers", 1, "Writer worker count")
	ttl := fs.Duration("ttl", 2*time.Second, "Per-acquisition TTL")
	duration := fs.Duration("duration", 30*time.Second, "Run length")
	if err := fs.Parse(args); err != nil {
		return ExitUsage
	}
	if fs.NArg() < 1 {
		fmt.Fprintln(os.Stderr, "usage: rwlockctl demo [--readers n] [--writers n] [--ttl duration] [--duration duration] <name>")
		return ExitUsage
	}
	name := fs.Arg(0)

	st, ns, err := openStore(url, namespace, debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		return ExitError
	}
	defer func() { _ = st.Close() }()

	cfg := &demo.Config{
		Name:      name,
		Namespace: ns,
		Readers:   *readers,
		Writers:   *writers,
		TTL:       *ttl,
		HoldMin:   50 * time.Millisecond,
		HoldMax:   300 * time.Millisecond,
		IdleMin:   50 * time.Millisecond,
		IdleMax:   400 * time.Millisecond,
		Seed:      rand.Uint64(), //nolint:gosec // demo seeding
	}

	coord := demo.NewCoordinator(cfg, st, newAuditor())
	renderer := demo.NewRenderer(cfg, coord.Stats)

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()
	ctx, cancel2 := context.WithTimeout(ctx, *duration)
	defer cancel2()

	go func() {
		for {
			select {
			case <-ctx.Done():
				return
			case key := <-renderer.Actions:
				if key == 'q' {
					cancel2()
					return
				}
			}
		}
	}()

	go renderer.Start(ctx)
	coord.Start(ctx)

	return ExitOK
}
