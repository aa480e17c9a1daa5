package main

import (
	"context"
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"golang.org/x/sync/errgroup"

	"github.com/Ajpantuso/hactl/internal/driver"
)

const (
	continuousInterval = 2 * time.Second
	maxWatchSeconds    = 300
)

func newMembersCommand(v *viper.Viper) *cobra.Command {
	var (
		format     string
		continuous bool
		seconds    int
	)

	cmd := &cobra.Command{
		Use:   "members [scope...]",
		Short: "Show the members of one or more clusters",
		Long: `Show the members of the given clusters, or of every cluster under the
namespace when none is named.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := validateFormat(format); err != nil {
				return err
			}
			interval, err := watchInterval(continuous, seconds)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			conn, err := dial(ctx, v, nil)
			if err != nil {
				return err
			}
			defer conn.Close()

			scopes := args
			if len(scopes) == 0 {
				if scopes, err = driver.ListScopes(ctx, conn.session, conn.cfg.Namespace); err != nil {
					return err
				}
			}

			drivers := make([]*driver.Driver, 0, len(scopes))
			for _, scope := range scopes {
				d, err := conn.driver(scope)
				if err != nil {
					return err
				}
				drivers = append(drivers, d)
			}

			return watchMembers(ctx, cmd.OutOrStdout(), format, drivers, interval)
		},
	}
	cmd.Flags().StringVarP(&format, "format", "f", formatPretty, "Output format (pretty, json)")
	cmd.Flags().BoolVarP(&continuous, "watch-continuous", "W", false, "Refresh every 2 seconds until interrupted")
	cmd.Flags().IntVarP(&seconds, "watch", "w", 0, "Refresh every N seconds (1-300) until interrupted")

	return cmd
}

// watchInterval returns zero when the listing is printed only once.
func watchInterval(continuous bool, seconds int) (time.Duration, error) {
	if seconds != 0 {
		if seconds < 1 || seconds > maxWatchSeconds {
			return 0, fmt.Errorf("watch interval must be between 1 and %d seconds", maxWatchSeconds)
		}
		return time.Duration(seconds) * time.Second, nil
	}
	if continuous {
		return continuousInterval, nil
	}
	return 0, nil
}

func watchMembers(ctx context.Context, w io.Writer, format string, drivers []*driver.Driver, interval time.Duration) error {
	var ticker *time.Ticker
	if interval > 0 {
		ticker = time.NewTicker(interval)
		defer ticker.Stop()
	}

	for {
		rows, err := loadMembers(ctx, drivers)
		if err != nil {
			return err
		}
		if interval > 0 && format == formatPretty {
			fmt.Fprintln(w, time.Now().Format(time.DateTime))
		}
		if err := printMembers(w, format, rows); err != nil {
			return err
		}
		if ticker == nil {
			return nil
		}

		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}
	}
}

// loadMembers loads every scope in parallel and flattens the result into
// rows sorted by scope and member.
func loadMembers(ctx context.Context, drivers []*driver.Driver) ([]memberRow, error) {
	perScope := make([][]memberRow, len(drivers))

	g, gctx := errgroup.WithContext(ctx)
	for i, d := range drivers {
		g.Go(func() error {
			c, err := d.GetCluster(gctx)
			if err != nil {
				return fmt.Errorf("loading cluster %s: %w", d.Scope(), err)
			}
			perScope[i] = memberRows(d.Scope(), c)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	rows := []memberRow{}
	for _, r := range perScope {
		rows = append(rows, r...)
	}
	sort.SliceStable(rows, func(i, j int) bool {
		if rows[i].Scope != rows[j].Scope {
			return rows[i].Scope < rows[j].Scope
		}
		return rows[i].Member < rows[j].Member
	})
	return rows, nil
}
