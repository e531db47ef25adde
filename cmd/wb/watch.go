package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zulandar/waybill/internal/calendar"
	"github.com/zulandar/waybill/internal/classify"
	"github.com/zulandar/waybill/internal/config"
	"github.com/zulandar/waybill/internal/mailbox"
	"github.com/zulandar/waybill/internal/mailbox/gmail"
	"github.com/zulandar/waybill/internal/mailbox/imap"
	"github.com/zulandar/waybill/internal/monitor"
	"github.com/zulandar/waybill/internal/relay"
	discordadapter "github.com/zulandar/waybill/internal/relay/discord"
	slackadapter "github.com/zulandar/waybill/internal/relay/slack"
)

func newWatchCmd() *cobra.Command {
	var configPath string

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Start the Waybill daemon",
		Long:  "Connects to the mailbox and the chat platform, then polls for new mail and relays notifications until interrupted.",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runWatch(cmd, configPath)
		},
	}

	cmd.Flags().StringVarP(&configPath, "config", "c", "waybill.yaml", "path to Waybill config file")
	return cmd
}

func runWatch(cmd *cobra.Command, configPath string) error {
	cfg, gormDB, err := connectFromConfig(configPath)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	mail, err := createMailStore(ctx, cfg)
	if err != nil {
		return err
	}

	classifier, err := createClassifier(cfg)
	if err != nil {
		return err
	}

	adapter, err := createAdapter(cfg)
	if err != nil {
		return err
	}

	var sched calendar.Scheduler
	if cfg.Calendar.Enabled {
		g, err := calendar.NewGoogle(ctx, cfg.Calendar.CredentialsFile, cfg.Calendar.TokenFile)
		if err != nil {
			return err
		}
		sched = g
	}

	daemon, err := monitor.NewDaemon(monitor.DaemonOpts{
		DB:         gormDB,
		Config:     cfg,
		Adapter:    adapter,
		Mail:       mail,
		Classifier: classifier,
		Calendar:   sched,
		Out:        cmd.OutOrStdout(),
	})
	if err != nil {
		return err
	}

	// Handle OS signals for graceful shutdown.
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		cancel()
	}()

	return daemon.Run(ctx)
}

func createMailStore(ctx context.Context, cfg *config.Config) (mailbox.Store, error) {
	switch cfg.Mailbox.Provider {
	case "gmail":
		return gmail.New(ctx, cfg.Mailbox.CredentialsFile, cfg.Mailbox.TokenFile)
	case "imap":
		return imap.New(cfg.Mailbox.IMAPHost, cfg.Mailbox.IMAPUser, cfg.Mailbox.IMAPPassword)
	default:
		return nil, fmt.Errorf("mailbox provider %q is not supported", cfg.Mailbox.Provider)
	}
}

func createClassifier(cfg *config.Config) (classify.Classifier, error) {
	switch cfg.Classify.Backend {
	case "ollama":
		return classify.NewOllama(cfg.Classify.OllamaURL, cfg.Classify.Model, cfg.Classify.Timeout.Std()), nil
	case "keyword":
		return classify.Keyword{}, nil
	default:
		return nil, fmt.Errorf("classify backend %q is not supported", cfg.Classify.Backend)
	}
}

func createAdapter(cfg *config.Config) (relay.Adapter, error) {
	switch cfg.Relay.Platform {
	case "slack":
		return slackadapter.New(slackadapter.AdapterOpts{
			AppToken:  cfg.Relay.Slack.AppToken,
			BotToken:  cfg.Relay.Slack.BotToken,
			ChannelID: cfg.Relay.Channel,
		})
	case "discord":
		return discordadapter.New(discordadapter.AdapterOpts{
			BotToken:  cfg.Relay.Discord.BotToken,
			ChannelID: cfg.Relay.Channel,
		})
	default:
		return nil, fmt.Errorf("relay platform %q is not supported", cfg.Relay.Platform)
	}
}
