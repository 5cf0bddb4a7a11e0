// main.go - Admin control tool for fanout
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"fanout/internal"
	"fanout/internal/runs"
)

const (
	defaultShutdownTimeout = 30 * time.Second
	pollInterval           = 500 * time.Millisecond
)

var serverURL = flag.String("server", "http://localhost:4000", "fanout server base URL")

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given args
	Execute(ctx context.Context, args []string) error
}

// The set of available commands
var commands = []Command{
	&RunCommand{},
	&MigrateCommand{},
	&StatusCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	// Set up signal handling
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, cancelling...", sig)
		cancel()
	}()

	args := flag.Args()
	if len(args) == 0 {
		showUsageAndExit()
	}

	cmd := findCommand(args[0])
	if cmd == nil {
		showUsageAndExit()
	}

	if err := cmd.Execute(ctx, args[1:]); err != nil {
		log.Fatalf("Command failed: %v", err)
	}
}

func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func showUsageAndExit() {
	fmt.Println("Usage: fanctl [-server URL] <command> [args]")
	fmt.Println()
	fmt.Println("Commands:")
	for _, cmd := range commands {
		fmt.Printf("  %-10s %s\n", cmd.Name(), cmd.Description())
	}
	os.Exit(1)
}

// RunCommand submits a batch file to a running server and follows progress
type RunCommand struct{}

func (c *RunCommand) Name() string { return "run" }

func (c *RunCommand) Description() string {
	return "Submits a YAML batch file as a run and follows its progress"
}

func (c *RunCommand) Execute(ctx context.Context, args []string) error {
	if len(args) < 1 {
		return fmt.Errorf("usage: %s <batch.yaml>", c.Name())
	}

	batch, err := LoadBatch(args[0])
	if err != nil {
		return err
	}

	client := NewAPIClient(*serverURL)
	run, err := client.StartRun(ctx, batch)
	if err != nil {
		return fmt.Errorf("failed to start run: %w", err)
	}
	fmt.Printf("Run %s started: %d tasks, runner=%s, concurrency=%d\n",
		run.ID, run.TotalTasks, run.Runner, run.Concurrency)

	return c.follow(ctx, client, run.ID)
}

// follow polls the run until it reaches a terminal status. On cancellation
// it asks the server to stop the run before returning.
func (c *RunCommand) follow(ctx context.Context, client *APIClient, runID string) error {
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	lastCompleted := -1
	for {
		select {
		case <-ctx.Done():
			stopCtx, cancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
			defer cancel()
			if err := client.StopRun(stopCtx, runID); err != nil {
				log.Printf("Warning: failed to stop run: %v", err)
			}
			return ctx.Err()
		case <-ticker.C:
			run, err := client.GetRun(ctx, runID)
			if err != nil {
				return fmt.Errorf("failed to poll run: %w", err)
			}
			if run.Completed != lastCompleted {
				fmt.Printf("  %d/%d completed\n", run.Completed, run.TotalTasks)
				lastCompleted = run.Completed
			}
			if run.Status == runs.StatusRunning {
				continue
			}

			fmt.Printf("Run %s %s: %d completed, %d failed\n",
				run.ID, run.Status, run.Completed, run.Failed)
			for _, res := range run.Results {
				if res.Error != "" {
					fmt.Printf("  task %s failed: %s\n", res.TaskID, res.Error)
				}
			}
			return nil
		}
	}
}

// MigrateCommand runs database migrations locally
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string { return "migrate" }

func (c *MigrateCommand) Description() string {
	return "Runs database migrations"
}

func (c *MigrateCommand) Execute(ctx context.Context, args []string) error {
	app, err := internal.NewApp()
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}
	defer shutdownApp(app)

	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}
	log.Println("Migrations completed")
	return nil
}

// StatusCommand prints run statistics from the local database
type StatusCommand struct{}

func (c *StatusCommand) Name() string { return "status" }

func (c *StatusCommand) Description() string {
	return "Shows run statistics from the local database"
}

func (c *StatusCommand) Execute(ctx context.Context, args []string) error {
	app, err := internal.NewApp()
	if err != nil {
		return fmt.Errorf("failed to initialize app: %w", err)
	}
	defer shutdownApp(app)

	db := app.DBManager.GetConnection()
	for _, status := range []string{runs.StatusRunning, runs.StatusCompleted, runs.StatusStopped} {
		var count int64
		if err := db.Model(&runs.Run{}).Where("status = ?", status).Count(&count).Error; err != nil {
			return fmt.Errorf("failed to count %s runs: %w", status, err)
		}
		fmt.Printf("%-10s %d\n", status, count)
	}
	return nil
}

// HelpCommand prints usage
type HelpCommand struct{}

func (c *HelpCommand) Name() string { return "help" }

func (c *HelpCommand) Description() string {
	return "Shows this help"
}

func (c *HelpCommand) Execute(ctx context.Context, args []string) error {
	showUsageAndExit()
	return nil
}

func shutdownApp(app *internal.Application) {
	if err := app.DBManager.Close(); err != nil {
		log.Printf("Warning: cleanup error: %v", err)
	}
}
