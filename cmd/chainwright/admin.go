package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"strings"
	"syscall"
	"text/tabwriter"
	"time"

	"golang.org/x/term"

	"github.com/chainwright/chainwright/internal/adapter/postgres"
	"github.com/chainwright/chainwright/internal/config"
	"github.com/chainwright/chainwright/internal/port/artifactstore"
)

// runAdmin dispatches admin subcommands (list-requests, count-artifacts, purge).
func runAdmin(args []string) error {
	if len(args) == 0 || args[0] == "help" || args[0] == "--help" {
		printAdminHelp()
		return nil
	}

	switch args[0] {
	case "list-requests":
		return runAdminListRequests(args[1:])
	case "count-artifacts":
		return runAdminCountArtifacts(args[1:])
	case "purge":
		return runAdminPurge(args[1:])
	default:
		printAdminHelp()
		return fmt.Errorf("unknown admin command: %s", args[0])
	}
}

func printAdminHelp() {
	fmt.Fprintf(os.Stderr, `Usage: chainwright admin <command> [options]

Commands:
  list-requests    List pipeline requests and their status
  count-artifacts  Print the total number of stored reasoning artifacts
  purge            Delete a request and its artifact trail
  help             Show this help message

Examples:
  chainwright admin list-requests
  chainwright admin list-requests --limit 20
  chainwright admin count-artifacts
  chainwright admin purge --request 01J8ZK3V9Q
  chainwright admin purge --all --yes
`)
}

func loadAdminDeps() (artifactstore.Store, func(), error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	if cfg.Storage.Driver != "postgres" {
		return nil, nil, errors.New("admin commands require storage.driver=postgres")
	}

	ctx := context.Background()
	pool, err := postgres.NewPool(ctx, cfg.Postgres)
	if err != nil {
		return nil, nil, fmt.Errorf("connect to database: %w", err)
	}

	cleanup := func() {
		pool.Close()
	}
	return postgres.NewStore(pool), cleanup, nil
}

func runAdminListRequests(args []string) error {
	fs := flag.NewFlagSet("list-requests", flag.ContinueOnError)
	limit := fs.Int("limit", 50, "maximum number of requests to show")
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	reqs, err := store.ListRequests(ctx)
	if err != nil {
		return fmt.Errorf("list requests: %w", err)
	}

	if len(reqs) == 0 {
		fmt.Println("No requests found.")
		return nil
	}
	if *limit > 0 && len(reqs) > *limit {
		reqs = reqs[:*limit]
	}

	w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
	_, _ = fmt.Fprintln(w, "ID\tSTATUS\tAGENTS\tUPDATED")
	for i := range reqs {
		_, _ = fmt.Fprintf(w, "%s\t%s\t%s\t%s\n",
			reqs[i].RequestID, reqs[i].Status, strings.Join(reqs[i].AgentChain, ","),
			reqs[i].UpdatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

func runAdminCountArtifacts(args []string) error {
	fs := flag.NewFlagSet("count-artifacts", flag.ContinueOnError)
	if err := fs.Parse(args); err != nil {
		return err
	}

	store, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()
	n, err := store.CountArtifacts(ctx)
	if err != nil {
		return fmt.Errorf("count artifacts: %w", err)
	}

	fmt.Printf("%d artifacts stored\n", n)
	return nil
}

func runAdminPurge(args []string) error {
	fs := flag.NewFlagSet("purge", flag.ContinueOnError)
	requestID := fs.String("request", "", "request id to purge")
	all := fs.Bool("all", false, "purge every request and artifact")
	yes := fs.Bool("yes", false, "skip the confirmation prompt")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if (*requestID != "") == *all {
		return errors.New("pass exactly one of --request or --all")
	}

	if !*yes {
		target := fmt.Sprintf("request %s", *requestID)
		if *all {
			target = "ALL requests"
		}
		if err := confirmPurge(target); err != nil {
			return err
		}
	}

	store, cleanup, err := loadAdminDeps()
	if err != nil {
		return err
	}
	defer cleanup()

	ctx := context.Background()

	if *all {
		reqs, err := store.ListRequests(ctx)
		if err != nil {
			return fmt.Errorf("list requests: %w", err)
		}
		var total int64
		for i := range reqs {
			n, err := store.ClearRequest(ctx, reqs[i].RequestID)
			if err != nil {
				return fmt.Errorf("purge %s: %w", reqs[i].RequestID, err)
			}
			total += n
		}
		fmt.Fprintf(os.Stderr, "Purged %d requests (%d artifacts).\n", len(reqs), total)
		return nil
	}

	n, err := store.ClearRequest(ctx, *requestID)
	if err != nil {
		return fmt.Errorf("purge %s: %w", *requestID, err)
	}
	fmt.Fprintf(os.Stderr, "Purged request %s (%d artifacts).\n", *requestID, n)
	return nil
}

// confirmPurge asks for interactive confirmation before a destructive delete.
func confirmPurge(target string) error {
	if !term.IsTerminal(int(syscall.Stdin)) { //nolint:unconvert // int conversion needed on some platforms
		return errors.New("stdin is not a terminal; pass --yes to confirm")
	}

	fmt.Fprintf(os.Stderr, "Permanently delete %s and the artifact trail? Type yes to continue: ", target)
	var answer string
	if _, err := fmt.Scanln(&answer); err != nil || answer != "yes" {
		return errors.New("purge aborted")
	}
	return nil
}
