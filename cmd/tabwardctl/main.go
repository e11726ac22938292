// tabwardctl is the control CLI for tabwardd.
package main

import (
	"fmt"
	"os"
	"sort"
	"strconv"
	"text/tabwriter"
	"time"

	"github.com/spf13/cobra"

	"tabward/internal/config"
	"tabward/internal/domain"
	"tabward/internal/ipc"
	"tabward/internal/store"
)

const version = "0.3.1"

func main() {
	if err := newRootCmd().Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	var configPath, socketPath string

	root := &cobra.Command{
		Use:           "tabwardctl",
		Short:         "Control utility for the tabward daemon",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	root.PersistentFlags().StringVar(&configPath, "config", "", "path to config file")
	root.PersistentFlags().StringVar(&socketPath, "socket", "", "daemon socket path (overrides config)")

	dial := func() (*ipc.ClientConn, error) {
		path := socketPath
		if path == "" {
			cfg, err := config.Load(configPath)
			if err != nil {
				return nil, fmt.Errorf("load config: %w", err)
			}
			path = cfg.IPC.SocketPath
		}
		conn, err := ipc.Dial(path, ipc.KindControl, version, 10*time.Second)
		if err != nil {
			return nil, fmt.Errorf("is tabwardd running? %w", err)
		}
		return conn, nil
	}

	root.AddCommand(newStatusCmd(dial))
	root.AddCommand(newStateCmd(dial))
	root.AddCommand(newFlushCmd(dial))
	root.AddCommand(newSnoozeCmd(dial))
	root.AddCommand(newLimitsCmd(dial))
	root.AddCommand(newUsageCmd(dial))
	root.AddCommand(newBlocksCmd(dial))
	root.AddCommand(newCategoriesCmd(dial))
	root.AddCommand(newStopCmd(dial))
	return root
}

type dialFunc func() (*ipc.ClientConn, error)

func newStatusCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show daemon status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			status, err := conn.Status()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "Version:   %s\n", status.Version)
			fmt.Fprintf(out, "Uptime:    %s\n", (time.Duration(status.UptimeSec) * time.Second).String())
			fmt.Fprintf(out, "Bridge:    %s\n", connectedWord(status.BridgeConnected))
			fmt.Fprintf(out, "Clients:   %d\n", status.ClientCount)
			fmt.Fprintf(out, "Limits:    %d\n", status.LimitCount)
			return nil
		},
	}
}

func newStateCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "state",
		Short: "Show the live tracking session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			state, err := conn.TrackingState()
			if err != nil {
				return err
			}

			out := cmd.OutOrStdout()
			if state.Session.ActiveDomain == "" {
				fmt.Fprintln(out, "Nothing tracked right now")
			} else {
				fmt.Fprintf(out, "Active domain:  %s\n", state.Session.ActiveDomain)
				fmt.Fprintf(out, "Active tab:     %d\n", state.Session.ActiveTabID)
				fmt.Fprintf(out, "Tracking since: %s\n", state.Session.LastCheckpoint.Format(time.RFC3339))
			}
			fmt.Fprintf(out, "Window focused: %v\n", state.Session.WindowFocused)
			if state.PendingSeconds > 0 {
				fmt.Fprintf(out, "Pending:        %ds on %s\n", state.PendingSeconds, state.PendingDomain)
			}
			return nil
		},
	}
}

func newFlushCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "flush",
		Short: "Persist pending usage now",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.ForceFlush(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "flushed")
			return nil
		},
	}
}

func newSnoozeCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "snooze <duration>|off",
		Short: "Suspend limit enforcement for a while",
		Long: `Suspend limit enforcement for a duration like 30m or 2h.
"snooze off" lifts an active snooze immediately.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			var d time.Duration
			if args[0] != "off" {
				var err error
				d, err = time.ParseDuration(args[0])
				if err != nil {
					return fmt.Errorf("bad duration %q: %w", args[0], err)
				}
				if d <= 0 {
					return fmt.Errorf("duration must be positive")
				}
			}

			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			until, err := conn.Snooze(d)
			if err != nil {
				return err
			}
			if until.IsZero() {
				fmt.Fprintln(cmd.OutOrStdout(), "enforcement active")
			} else {
				fmt.Fprintf(cmd.OutOrStdout(), "enforcement snoozed until %s\n", until.Format(time.Kitchen))
			}
			return nil
		},
	}
}

func newLimitsCmd(dial dialFunc) *cobra.Command {
	limits := &cobra.Command{Use: "limits", Short: "Manage time limits"}

	var site, category string
	var timeframe string
	var minutes int

	addCmd := &cobra.Command{
		Use:   "add",
		Short: "Add a time limit for a site or category",
		RunE: func(cmd *cobra.Command, _ []string) error {
			l := store.Limit{
				Timeframe:    store.Timeframe(timeframe),
				LimitMinutes: minutes,
			}
			switch {
			case site != "" && category != "":
				return fmt.Errorf("pick one of --site or --category")
			case site != "":
				l.TargetType = store.TargetSite
				l.TargetID = domain.Normalize(site)
			case category != "":
				l.TargetType = store.TargetCategory
				l.TargetID = category
			default:
				return fmt.Errorf("one of --site or --category is required")
			}

			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			id, err := conn.AddLimit(l)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "limit %d: %s %s, %d min %s\n", id, l.TargetType, l.TargetID, l.LimitMinutes, l.Timeframe)
			return nil
		},
	}
	addCmd.Flags().StringVar(&site, "site", "", "site domain, e.g. youtube.com")
	addCmd.Flags().StringVar(&category, "category", "", "category name, e.g. Video")
	addCmd.Flags().StringVar(&timeframe, "timeframe", "daily", "daily, weekly, or monthly")
	addCmd.Flags().IntVar(&minutes, "minutes", 0, "allowance in minutes")
	_ = addCmd.MarkFlagRequired("minutes")

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List configured limits",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			all, err := conn.Limits()
			if err != nil {
				return err
			}
			if len(all) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no limits configured")
				return nil
			}

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "ID\tTYPE\tTARGET\tTIMEFRAME\tMINUTES")
			for _, l := range all {
				fmt.Fprintf(w, "%d\t%s\t%s\t%s\t%d\n", l.ID, l.TargetType, l.TargetID, l.Timeframe, l.LimitMinutes)
			}
			return w.Flush()
		},
	}

	rmCmd := &cobra.Command{
		Use:   "rm <id>",
		Short: "Remove a limit",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id, err := strconv.ParseInt(args[0], 10, 64)
			if err != nil {
				return fmt.Errorf("bad limit id %q", args[0])
			}

			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.DeleteLimit(id); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "limit %d removed\n", id)
			return nil
		},
	}

	limits.AddCommand(addCmd, listCmd, rmCmd, newLimitsExportCmd(dial), newLimitsImportCmd(dial))
	return limits
}

func newStopCmd(dial dialFunc) *cobra.Command {
	return &cobra.Command{
		Use:   "stop",
		Short: "Shut the daemon down gracefully",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			if err := conn.Shutdown(); err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), "daemon stopping")
			return nil
		},
	}
}

func newUsageCmd(dial dialFunc) *cobra.Command {
	var timeframe string
	var showBlocks bool

	cmd := &cobra.Command{
		Use:   "usage",
		Short: "Show per-domain usage",
		RunE: func(cmd *cobra.Command, _ []string) error {
			if showBlocks {
				conn, err := dial()
				if err != nil {
					return err
				}
				defer conn.Close()
				return printBlockEvents(cmd, conn, 20)
			}

			tf := store.Timeframe(timeframe)
			if !store.ValidTimeframe(tf) {
				return fmt.Errorf("unknown timeframe %q", timeframe)
			}

			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			usage, err := conn.Usage(tf)
			if err != nil {
				return err
			}
			if len(usage) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no usage recorded")
				return nil
			}

			sort.Slice(usage, func(i, j int) bool { return usage[i].Seconds > usage[j].Seconds })

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DOMAIN\tTIME")
			for _, u := range usage {
				fmt.Fprintf(w, "%s\t%s\n", u.Domain, formatSeconds(u.Seconds))
			}
			return w.Flush()
		},
	}
	cmd.Flags().StringVar(&timeframe, "timeframe", "daily", "daily, weekly, or monthly")
	cmd.Flags().BoolVar(&showBlocks, "blocks", false, "show recent block events instead")
	return cmd
}

func newBlocksCmd(dial dialFunc) *cobra.Command {
	var count int

	cmd := &cobra.Command{
		Use:   "blocks",
		Short: "Show recent block events",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()
			return printBlockEvents(cmd, conn, count)
		},
	}
	cmd.Flags().IntVarP(&count, "count", "n", 20, "number of events to show")
	return cmd
}

func printBlockEvents(cmd *cobra.Command, conn *ipc.ClientConn, count int) error {
	events, err := conn.BlockEvents(count)
	if err != nil {
		return err
	}
	if len(events) == 0 {
		fmt.Fprintln(cmd.OutOrStdout(), "no blocks recorded")
		return nil
	}

	w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "WHEN\tDOMAIN\tLIMIT")
	for _, e := range events {
		fmt.Fprintf(w, "%s\t%s\t%d\n", e.BlockedAt.Format("2006-01-02 15:04"), e.Domain, e.LimitID)
	}
	return w.Flush()
}

func newCategoriesCmd(dial dialFunc) *cobra.Command {
	categories := &cobra.Command{Use: "categories", Short: "Manage domain categories"}

	listCmd := &cobra.Command{
		Use:   "list",
		Short: "List classified domains",
		RunE: func(cmd *cobra.Command, _ []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			cats, err := conn.Categories()
			if err != nil {
				return err
			}
			if len(cats) == 0 {
				fmt.Fprintln(cmd.OutOrStdout(), "no domains classified yet")
				return nil
			}

			domains := make([]string, 0, len(cats))
			for d := range cats {
				domains = append(domains, d)
			}
			sort.Strings(domains)

			w := tabwriter.NewWriter(cmd.OutOrStdout(), 0, 4, 2, ' ', 0)
			fmt.Fprintln(w, "DOMAIN\tCATEGORY")
			for _, d := range domains {
				fmt.Fprintf(w, "%s\t%s\n", d, cats[d])
			}
			return w.Flush()
		},
	}

	setCmd := &cobra.Command{
		Use:   "set <domain> <category>",
		Short: "Assign a category to a domain",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			conn, err := dial()
			if err != nil {
				return err
			}
			defer conn.Close()

			d := domain.Normalize(args[0])
			if err := conn.SetCategory(d, args[1]); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s -> %s\n", d, args[1])
			return nil
		},
	}

	categories.AddCommand(listCmd, setCmd)
	return categories
}

func connectedWord(connected bool) string {
	if connected {
		return "connected"
	}
	return "disconnected"
}

func formatSeconds(secs int64) string {
	d := time.Duration(secs) * time.Second
	if d < time.Minute {
		return fmt.Sprintf("%ds", secs)
	}
	h := d / time.Hour
	m := (d % time.Hour) / time.Minute
	if h > 0 {
		return fmt.Sprintf("%dh%02dm", h, m)
	}
	return fmt.Sprintf("%dm", m)
}
