package commands

import (
	"fmt"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"securechat/internal/domain"
	"securechat/internal/services/syncer"
)

func syncCmd() *cobra.Command {
	var watch bool
	cmd := &cobra.Command{
		Use:   "sync",
		Short: "Run one sync cycle, or keep syncing until interrupted with --watch",
		RunE: func(cmd *cobra.Command, args []string) error {
			if err := requireIdentity(cmd.Context()); err != nil {
				return err
			}
			if watch {
				return watchSync(cmd)
			}

			s, stop := startSpinner("Syncing with " + wire.Config.ServerURL + "...")
			rep := wire.Engine.RunCycle(cmd.Context())
			s.FinalMSG = reportLine(rep)
			stop()
			return rep.Err
		},
	}
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "keep syncing on the configured interval")
	return cmd
}

func watchSync(cmd *cobra.Command) error {
	ctx := cmd.Context()
	sub, cancel := wire.Bus.Subscribe(64)
	defer cancel()

	wire.Engine.Start(ctx)
	defer wire.Engine.Stop()
	// Start waits a full interval; sync once right away.
	wire.Engine.NotifyNetworkRestored()
	printLines(hintLine(fmt.Sprintf("Syncing every %s; press Ctrl-C to stop", wire.Config.SyncInterval.Duration)))

	for {
		select {
		case <-ctx.Done():
			return nil
		case ev := <-sub:
			switch p := ev.Payload.(type) {
			case syncer.Report:
				printLines(reportLine(p))
			case syncer.MessageDecrypted:
				fmt.Printf("%s %s: %s\n", color.HiBlackString(string(p.ConversationID)), color.CyanString(p.Body.Sender), p.Body.Text)
			case syncer.MessageUnreadable:
				fmt.Printf("%s %s\n", color.HiBlackString(string(p.ConversationID)), color.RedString("[unreadable message]"))
			}
		}
	}
}

func reportLine(rep syncer.Report) string {
	switch rep.Outcome {
	case syncer.OutcomeCompleted:
		return okLine(fmt.Sprintf("Synced: %d conversations, %d messages, %d changes pushed",
			rep.ConversationsMerged, rep.MessagesFetched, rep.ItemsPushed))
	case syncer.OutcomeSkipped:
		return hintLine("A sync is already running")
	default:
		return failLine(fmt.Sprintf("Sync failed at %s (%d in a row): %v", rep.Step, rep.ConsecutiveFailures, rep.Err))
	}
}

func registerDeviceCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "register-device",
		Short: "Announce this installation to the sync service",
		RunE: func(cmd *cobra.Command, args []string) error {
			s, stop := startSpinner("Registering device...")
			err := wire.Engine.RegisterDevice(cmd.Context())
			if err != nil {
				s.FinalMSG = failLine("Registration failed")
			} else {
				s.FinalMSG = okLine("Registered " + color.YellowString(string(wire.Engine.DeviceID())))
			}
			stop()
			return err
		},
	}
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show key and sync status",
		RunE: func(cmd *cobra.Command, args []string) error {
			if _, err := wire.Keys.Load(cmd.Context()); err != nil {
				return err
			}
			ks := wire.Keys.Status()
			ss := wire.Engine.Status()
			last := "never"
			if ss.LastSyncTime > 0 {
				last = time.UnixMilli(ss.LastSyncTime).Format(time.DateTime)
			}
			printLines(
				color.New(color.Bold).Sprint("Keys"),
				fmt.Sprintf("  identity:        %v", ks.HasIdentity),
				fmt.Sprintf("  session keys:    %d", ks.SessionKeyCount),
				fmt.Sprintf("  peer keys:       %d", ks.PublicKeyCount),
				color.New(color.Bold).Sprint("Sync"),
				fmt.Sprintf("  device:          %s", ss.DeviceID),
				fmt.Sprintf("  server:          %s", wire.Config.ServerURL),
				fmt.Sprintf("  queued changes:  %d", ss.QueueLength),
				fmt.Sprintf("  last sync:       %s", last),
				fmt.Sprintf("  state:           %s", stateLabel(ss)),
			)
			return nil
		},
	}
}

func stateLabel(ss domain.SyncStatus) string {
	if ss.LastOutcome == domain.SyncFailed {
		return color.RedString("%s (%d failures)", ss.State, ss.ConsecutiveFailures)
	}
	return string(ss.State)
}
