package commands

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/briandowns/spinner"
	"github.com/fatih/color"

	"securechat/internal/domain"
)

func okLine(msg string) string   { return color.GreenString("✓") + " " + msg }
func failLine(msg string) string { return color.RedString("✗") + " " + msg }
func hintLine(msg string) string { return color.CyanString("→") + " " + msg }

func printLines(lines ...string) { fmt.Println(strings.Join(lines, "\n")) }

// startSpinner shows message while work runs; the returned func stops it.
// In verbose mode logs are shown instead.
func startSpinner(message string) (*spinner.Spinner, func()) {
	s := spinner.New(spinner.CharSets[14], 100*time.Millisecond)
	s.Suffix = " " + message
	_ = s.Color("cyan")
	if !verbose {
		s.Start()
	}
	return s, func() {
		final := s.FinalMSG
		s.FinalMSG = ""
		if !verbose {
			s.Stop()
		}
		if final != "" {
			printLines(strings.TrimRight(final, "\n"))
		}
	}
}

// requireIdentity loads the identity, creating one on first use.
func requireIdentity(ctx context.Context) error {
	if !wire.Keys.Status().Initialized {
		if _, created, err := wire.Keys.EnsureIdentity(ctx); err != nil {
			return err
		} else if created {
			printLines(hintLine("No identity existed; created one. Share " + color.YellowString("securechat export-key") + " with peers"))
		}
	}
	return nil
}

func requireConversation(id domain.ConversationID) error {
	if _, ok, err := wire.Engine.Conversation(id); err != nil {
		return err
	} else if !ok {
		printLines(failLine("Unknown conversation "+string(id)), hintLine("Send a message or accept a key first"))
		return fmt.Errorf("conversation %s not found", id)
	}
	return nil
}

func conversationArg(s string) domain.ConversationID { return domain.ConversationID(s) }
