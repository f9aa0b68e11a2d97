package migrate

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"io/fs"
	"strconv"
	"time"

	"github.com/fleetgrid/telemetry-deadletter/pkg/observability/logger"
)

const (
	defaultSubcommand = "up"
	defaultSteps      = 1
	defaultTimeout    = 60 * time.Second
)

// Options configures migration command behavior.
type Options struct {
	ServiceName string
	Timeout     time.Duration
	Logger      logger.Logger
}

// ParseArgs parses [up|down|status] [steps], defaulting to "up".
func ParseArgs(args []string) (string, int, error) {
	subcommand := defaultSubcommand
	if len(args) > 0 {
		subcommand = args[0]
	}

	steps := defaultSteps
	if len(args) > 1 {
		parsed, err := strconv.Atoi(args[1])
		if err != nil {
			return "", 0, fmt.Errorf("invalid down steps %q", args[1])
		}
		steps = parsed
	}

	return subcommand, steps, nil
}

// Run executes one migrate subcommand against an open database handle, with
// shared timeout handling and status logging.
func Run(ctx context.Context, db *sql.DB, migrationFiles fs.FS, migrationsDir, subcommand string, steps int, opts Options) error {
	if opts.Logger == nil {
		return errors.New("migration logger is required")
	}
	if opts.ServiceName == "" {
		return errors.New("migration service name is required")
	}

	manager, err := NewSQLManager(db, migrationFiles, migrationsDir)
	if err != nil {
		return err
	}

	timeout := opts.Timeout
	if timeout <= 0 {
		timeout = defaultTimeout
	}
	runCtx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()

	switch subcommand {
	case "up":
		applied, err := manager.Up(runCtx)
		if err != nil {
			return err
		}
		opts.Logger.Info("migrations applied", "count", applied)
		return nil
	case "down":
		if steps <= 0 {
			return errors.New("steps must be greater than zero")
		}
		reverted, err := manager.Down(runCtx, steps)
		if err != nil {
			return err
		}
		opts.Logger.Info("migrations reverted", "count", reverted, "steps", steps)
		return nil
	case "status":
		status, err := manager.Status(runCtx)
		if err != nil {
			return err
		}
		opts.Logger.Info("migration status", "applied", len(status.AppliedVersions), "pending", len(status.Pending))
		for _, version := range status.AppliedVersions {
			opts.Logger.Info("migration applied", "version", version)
		}
		for _, pending := range status.Pending {
			opts.Logger.Info("migration pending", "version", pending.Version, "name", pending.Name)
		}
		return nil
	default:
		return fmt.Errorf("usage: %s migrate [up|down|status] [steps]", opts.ServiceName)
	}
}
