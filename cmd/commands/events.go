package commands

import (
	"context"
	"fmt"
	"os"

	"github.com/olekukonko/tablewriter"
	"github.com/urfave/cli/v3"

	"github.com/Paddel87/AIMAlocal-sub001/internal/core/domain"
)

// EventsAction shows the push events recorded by watch sessions.
func EventsAction(ctx context.Context, cmd *cli.Command) error {
	appCtx, err := NewAppContext(ctx, cmd.String("env"))
	if err != nil {
		return err
	}
	defer appCtx.Close()
	if err := appCtx.requireRedis(); err != nil {
		return err
	}

	if cmd.Bool("clear") {
		if err := appCtx.Journal.Clear(ctx); err != nil {
			return fmt.Errorf("failed to clear journal: %w", err)
		}
		fmt.Println("journal cleared")
		return nil
	}

	tail, err := appCtx.Journal.Tail(ctx, int64(cmd.Int("tail")))
	if err != nil {
		return fmt.Errorf("failed to read journal: %w", err)
	}
	table := tablewriter.NewWriter(os.Stdout)
	table.Header("Timestamp", "Type", "Data")
	for _, env := range tail {
		table.Append(env.Timestamp, env.Type, string(env.Data))
	}
	table.Render()

	if !cmd.Bool("follow") {
		return nil
	}
	return appCtx.Journal.Follow(ctx, func(env domain.Envelope) {
		fmt.Printf("%s\t%s\t%s\n", env.Timestamp, env.Type, env.Data)
	})
}
