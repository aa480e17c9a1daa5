package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/Ajpantuso/hactl/internal/cluster"
	"github.com/Ajpantuso/hactl/internal/failover"
)

const progressTimeFormat = "2006-01-02 15:04:05.000"

func newFailoverCommand(v *viper.Viper) *cobra.Command {
	var (
		leader    string
		candidate string
		force     bool
		interval  time.Duration
		timeout   time.Duration
	)

	cmd := &cobra.Command{
		Use:   "failover <scope>",
		Short: "Hand leadership of a cluster to another member",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			scope := args[0]
			out := cmd.OutOrStdout()

			ctx := cmd.Context()
			conn, err := dial(ctx, v, nil)
			if err != nil {
				return err
			}
			defer conn.Close()

			d, err := conn.driver(scope)
			if err != nil {
				return err
			}

			var req failover.Request
			if cmd.Flags().Changed("leader") {
				req.Leader = &leader
			}
			if cmd.Flags().Changed("candidate") {
				req.Candidate = &candidate
			}
			opts := []failover.OrchestratorOption{
				failover.WithLogger{Logger: logger},
				failover.WithMetrics{Metrics: conn.metrics},
				failover.WithReporter(progressReporter(out)),
				failover.WithTopology(func(c *cluster.Cluster) {
					printMembers(out, formatPretty, memberRows(scope, c))
				}),
				failover.WithInterval(interval),
				failover.WithTimeout(timeout),
			}
			if force {
				// forced runs take the observed leader and let any member win
				req.Force = true
				if req.Candidate == nil {
					req.Candidate = new(string)
				}
			} else {
				opts = append(opts, failover.WithPrompter{Prompter: newPrompter(cmd.InOrStdin(), out)})
			}

			res, err := failover.New(d, opts...).Run(ctx, req)
			if errors.Is(err, failover.ErrAborted) {
				fmt.Fprintln(out, "Aborting failover")
				return err
			}
			if err != nil {
				return err
			}

			return printMembers(out, formatPretty, memberRows(scope, res.Cluster))
		},
	}
	cmd.Flags().StringVar(&leader, "leader", "", "Name of the current leader")
	cmd.Flags().StringVar(&candidate, "candidate", "", "Name of the member to promote, empty for any")
	cmd.Flags().BoolVar(&force, "force", false, "Do not ask for confirmation")
	cmd.Flags().DurationVar(&interval, "poll-interval", failover.DefaultInterval, "Interval between cluster checks")
	cmd.Flags().DurationVar(&timeout, "timeout", failover.DefaultTimeout, "Deadline for each phase of the failover")

	return cmd
}

func progressReporter(w io.Writer) failover.Reporter {
	return func(tr failover.Transition) {
		ts := tr.At.Format(progressTimeFormat)
		switch tr.To {
		case failover.StateRequested:
			fmt.Fprintln(w, color.CyanString("%s Failover requested, waiting for the leader to step down", ts))
		case failover.StateKeyCleared:
			fmt.Fprintln(w, color.CyanString("%s Failover request accepted, waiting for a new leader", ts))
		case failover.StateLeaderKnown:
			fmt.Fprintln(w, color.GreenString("%s Successfully failed over to %q", ts, tr.Cluster.LeaderName()))
		case failover.StateTimedOut:
			fmt.Fprintln(w, color.RedString("%s Failover did not complete in time", ts))
		}
	}
}

type prompter struct {
	in  *bufio.Reader
	out io.Writer
}

func newPrompter(in io.Reader, out io.Writer) *prompter {
	return &prompter{in: bufio.NewReader(in), out: out}
}

func (p *prompter) Prompt(label, def string) (string, error) {
	fmt.Fprintf(p.out, "%s [%s]: ", label, def)

	answer, err := p.readLine()
	if err != nil {
		return "", err
	}
	if answer == "" {
		return def, nil
	}
	return answer, nil
}

// Confirm treats anything but an explicit yes, including end of input, as no.
func (p *prompter) Confirm(question string) (bool, error) {
	fmt.Fprintf(p.out, "%s [y/N]: ", question)

	answer, err := p.readLine()
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, err
	}
	switch strings.ToLower(answer) {
	case "y", "yes":
		return true, nil
	default:
		return false, nil
	}
}

// readLine returns io.EOF only when the input ended before any text.
func (p *prompter) readLine() (string, error) {
	line, err := p.in.ReadString('\n')
	if err != nil && !(errors.Is(err, io.EOF) && line != "") {
		return "", err
	}
	return strings.TrimSpace(line), nil
}
