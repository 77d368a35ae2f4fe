package migration

import (
	"context"
	"fmt"
	"io"
	"os"
	"strconv"
	"text/tabwriter"
)

// Actions 支持的迁移动作
var Actions = []string{"up", "down", "reset", "status", "version", "info", "goto", "force", "steps"}

// CLI 为 migrate 子命令提供格式化输出
type CLI struct {
	migrator Migrator
	output   io.Writer
}

// NewCLI 创建迁移 CLI，输出写入 w；w 为 nil 时写入标准输出
func NewCLI(migrator Migrator, w io.Writer) *CLI {
	if w == nil {
		w = os.Stdout
	}
	return &CLI{migrator: migrator, output: w}
}

// Execute 执行一个迁移动作。goto / force / steps 需要一个整数参数。
func (c *CLI) Execute(ctx context.Context, action string, args ...string) error {
	needsArg := action == "goto" || action == "force" || action == "steps"
	var n int
	if needsArg {
		if len(args) != 1 {
			return fmt.Errorf("migrate %s requires exactly one numeric argument", action)
		}
		var err error
		if n, err = strconv.Atoi(args[0]); err != nil {
			return fmt.Errorf("migrate %s: invalid number %q", action, args[0])
		}
	}

	switch action {
	case "up":
		fmt.Fprintln(c.output, "Running migrations...")
		if err := c.migrator.Up(ctx); err != nil {
			return err
		}
		return c.printVersion(ctx, "Migrations complete.")
	case "down":
		fmt.Fprintln(c.output, "Rolling back last migration...")
		if err := c.migrator.Down(ctx); err != nil {
			return err
		}
		return c.printVersion(ctx, "Rollback complete.")
	case "reset":
		fmt.Fprintln(c.output, "Rolling back all migrations...")
		if err := c.migrator.DownAll(ctx); err != nil {
			return err
		}
		fmt.Fprintln(c.output, "All migrations rolled back.")
		return nil
	case "steps":
		if err := c.migrator.Steps(ctx, n); err != nil {
			return err
		}
		return c.printVersion(ctx, fmt.Sprintf("Moved %+d step(s).", n))
	case "goto":
		if n < 0 {
			return fmt.Errorf("migrate goto: version must not be negative")
		}
		if err := c.migrator.Goto(ctx, uint(n)); err != nil {
			return err
		}
		return c.printVersion(ctx, "Migration complete.")
	case "force":
		if err := c.migrator.Force(ctx, n); err != nil {
			return err
		}
		fmt.Fprintf(c.output, "Version forced to %d\n", n)
		return nil
	case "version":
		return c.runVersion(ctx)
	case "status":
		return c.runStatus(ctx)
	case "info":
		return c.runInfo(ctx)
	default:
		return fmt.Errorf("unknown migrate action %q (want one of %v)", action, Actions)
	}
}

func (c *CLI) printVersion(ctx context.Context, prefix string) error {
	version, dirty, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	if prefix != "" {
		fmt.Fprint(c.output, prefix+" ")
	}
	fmt.Fprintf(c.output, "Current version: %d", version)
	if dirty {
		fmt.Fprint(c.output, " (dirty)")
	}
	fmt.Fprintln(c.output)
	return nil
}

func (c *CLI) runVersion(ctx context.Context) error {
	version, _, err := c.migrator.Version(ctx)
	if err != nil {
		return err
	}
	if version == 0 {
		fmt.Fprintln(c.output, "No migrations applied yet.")
		return nil
	}
	return c.printVersion(ctx, "")
}

func (c *CLI) runStatus(ctx context.Context) error {
	statuses, err := c.migrator.Status(ctx)
	if err != nil {
		return fmt.Errorf("failed to get status: %w", err)
	}
	if len(statuses) == 0 {
		fmt.Fprintln(c.output, "No migrations found.")
		return nil
	}

	w := tabwriter.NewWriter(c.output, 0, 0, 2, ' ', 0)
	fmt.Fprintln(w, "VERSION\tNAME\tSTATUS")
	for _, s := range statuses {
		status := "Pending"
		switch {
		case s.Dirty:
			status = "Dirty"
		case s.Applied:
			status = "Applied"
		}
		fmt.Fprintf(w, "%06d\t%s\t%s\n", s.Version, s.Name, status)
	}
	return w.Flush()
}

func (c *CLI) runInfo(ctx context.Context) error {
	info, err := c.migrator.Info(ctx)
	if err != nil {
		return fmt.Errorf("failed to get info: %w", err)
	}
	fmt.Fprintf(c.output, "Current Version:    %d\n", info.CurrentVersion)
	fmt.Fprintf(c.output, "Dirty:              %v\n", info.Dirty)
	fmt.Fprintf(c.output, "Total Migrations:   %d\n", info.TotalMigrations)
	fmt.Fprintf(c.output, "Applied Migrations: %d\n", info.AppliedMigrations)
	fmt.Fprintf(c.output, "Pending Migrations: %d\n", info.PendingMigrations)
	return nil
}
