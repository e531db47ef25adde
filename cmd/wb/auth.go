package main

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"golang.org/x/oauth2"
	"golang.org/x/oauth2/google"
	"golang.org/x/term"
	calendarapi "google.golang.org/api/calendar/v3"
	gmailapi "google.golang.org/api/gmail/v1"

	"github.com/zulandar/waybill/internal/config"
	"github.com/zulandar/waybill/internal/mailbox/imap"
)

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Authorize mail and calendar access",
		Long:  "Runs the OAuth consent flow for Gmail or Google Calendar and stores the resulting token, or verifies IMAP credentials.",
	}

	cmd.AddCommand(newAuthGmailCmd())
	cmd.AddCommand(newAuthCalendarCmd())
	cmd.AddCommand(newAuthIMAPCmd())
	return cmd
}

func newAuthGmailCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "gmail",
		Short: "Authorize Gmail access",
		Long:  "Prints a consent URL, exchanges the pasted authorization code, and writes the mailbox token file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runAuthFlow(cmd, cfg.Mailbox.CredentialsFile, cfg.Mailbox.TokenFile,
				gmailapi.GmailModifyScope, gmailapi.GmailSendScope)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "waybill.yaml", "path to Waybill config file")
	return cmd
}

func newAuthCalendarCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "calendar",
		Short: "Authorize Google Calendar access",
		Long:  "Prints a consent URL, exchanges the pasted authorization code, and writes the calendar token file.",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.Load(configPath)
			if err != nil {
				return fmt.Errorf("load config: %w", err)
			}
			return runAuthFlow(cmd, cfg.Calendar.CredentialsFile, cfg.Calendar.TokenFile,
				calendarapi.CalendarEventsScope)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "waybill.yaml", "path to Waybill config file")
	return cmd
}

func runAuthFlow(cmd *cobra.Command, credentialsFile, tokenFile string, scopes ...string) error {
	out := cmd.OutOrStdout()

	credData, err := os.ReadFile(credentialsFile)
	if err != nil {
		return fmt.Errorf("read credentials: %w", err)
	}
	conf, err := google.ConfigFromJSON(credData, scopes...)
	if err != nil {
		return fmt.Errorf("parse credentials: %w", err)
	}

	url := conf.AuthCodeURL("state-token", oauth2.AccessTypeOffline)
	fmt.Fprintf(out, "Open the following URL in your browser and approve access:\n\n  %s\n\n", url)
	fmt.Fprint(out, "Paste the authorization code: ")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		return fmt.Errorf("no authorization code entered")
	}
	code := strings.TrimSpace(scanner.Text())
	if code == "" {
		return fmt.Errorf("no authorization code entered")
	}

	tok, err := conf.Exchange(context.Background(), code)
	if err != nil {
		return fmt.Errorf("exchange authorization code: %w", err)
	}

	data, err := json.MarshalIndent(tok, "", "  ")
	if err != nil {
		return fmt.Errorf("encode token: %w", err)
	}
	if err := os.WriteFile(tokenFile, data, 0o600); err != nil {
		return fmt.Errorf("write token: %w", err)
	}

	fmt.Fprintf(out, "Token saved to %s\n", tokenFile)
	return nil
}

func newAuthIMAPCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "imap",
		Short: "Verify IMAP credentials",
		Long:  "Prompts for the IMAP password and verifies it by logging in to the configured server. The password is read from WAYBILL_IMAP_PASSWORD at daemon start; this command only checks it works.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runAuthIMAP(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "waybill.yaml", "path to Waybill config file")
	return cmd
}

func runAuthIMAP(cmd *cobra.Command, configPath string) error {
	out := cmd.OutOrStdout()

	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if cfg.Mailbox.Provider != "imap" {
		return fmt.Errorf("mailbox provider is %q, not imap", cfg.Mailbox.Provider)
	}

	fmt.Fprintf(out, "Password for %s@%s: ", cfg.Mailbox.IMAPUser, cfg.Mailbox.IMAPHost)
	password, err := readPassword(cmd)
	if err != nil {
		return err
	}
	fmt.Fprintln(out)

	store, err := imap.New(cfg.Mailbox.IMAPHost, cfg.Mailbox.IMAPUser, password)
	if err != nil {
		return err
	}

	// The store dials per operation, so a tiny fetch exercises the full
	// dial, login, and INBOX select path.
	if _, err := store.FetchNew(cmd.Context(), time.Now(), 1); err != nil {
		return err
	}

	fmt.Fprintf(out, "Login OK for %s@%s\n", cfg.Mailbox.IMAPUser, cfg.Mailbox.IMAPHost)
	return nil
}

// readPassword reads without echo when stdin is a terminal, and falls back
// to a plain line read otherwise so the command stays scriptable.
func readPassword(cmd *cobra.Command) (string, error) {
	fd := int(os.Stdin.Fd())
	if term.IsTerminal(fd) {
		raw, err := term.ReadPassword(fd)
		if err != nil {
			return "", fmt.Errorf("read password: %w", err)
		}
		return string(raw), nil
	}

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		return "", fmt.Errorf("read password: no input")
	}
	return strings.TrimSpace(scanner.Text()), nil
}
