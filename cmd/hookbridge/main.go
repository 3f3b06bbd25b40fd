// Copyright 2026 The Hookbridge Authors
// SPDX-License-Identifier: Apache-2.0

// hookbridge is a Matrix appservice that bridges inbound HTTP webhooks
// to room messages, Slack incoming-webhook style.
//
// Two modes of operation:
//
// Registration generation (--generate-registration): writes the
// appservice registration YAML the homeserver admin installs. The
// bridge and the homeserver then share its tokens and user namespace.
//
// Serving (default): provisions the primary bot, answers "!webhook" in
// rooms the bot is invited to, and accepts webhook POSTs on
// /api/v1/matrix/hook/{id}, delivering each as a virtual per-hook user.
package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"

	"github.com/hookbridge/hookbridge/bridge"
	"github.com/hookbridge/hookbridge/lib/appservice"
	"github.com/hookbridge/hookbridge/lib/clock"
	"github.com/hookbridge/hookbridge/lib/config"
	"github.com/hookbridge/hookbridge/lib/hookstore"
	"github.com/hookbridge/hookbridge/lib/process"
	"github.com/hookbridge/hookbridge/lib/secret"
	"github.com/hookbridge/hookbridge/lib/service"
	"github.com/hookbridge/hookbridge/lib/version"
	"github.com/hookbridge/hookbridge/messaging"
)

// syncFilter restricts /sync to the event types the bot acts on:
// membership changes (invites) and room messages (commands).
const syncFilter = `{"room":{"timeline":{"types":["m.room.message"]},"state":{"types":["m.room.member"]}}}`

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

type options struct {
	configPath       string
	registrationPath string
	generate         bool
	url              string
	localpart        string
	listenAddress    string
	databasePath     string
	showVersion      bool
}

func parseOptions(args []string) (*options, error) {
	var opts options
	flags := pflag.NewFlagSet("hookbridge", pflag.ContinueOnError)
	flags.StringVarP(&opts.configPath, "config", "c", "", "path to the bridge config file")
	flags.StringVarP(&opts.registrationPath, "file", "f", "", "path to the appservice registration file")
	flags.BoolVarP(&opts.generate, "generate-registration", "r", false, "write a new registration file and exit")
	flags.StringVarP(&opts.url, "url", "u", "", "appservice URL recorded in the registration (only with -r)")
	flags.StringVarP(&opts.localpart, "localpart", "l", "", "override the bot localpart in the registration (only with -r)")
	flags.StringVarP(&opts.listenAddress, "listen", "p", "", "override the configured webhook listen address")
	flags.StringVarP(&opts.databasePath, "database-path", "d", "", "override the configured database path")
	flags.BoolVar(&opts.showVersion, "version", false, "print version information and exit")

	if err := flags.Parse(args); err != nil {
		return nil, err
	}
	return &opts, nil
}

// validate rejects flag combinations early, before any network or disk
// work. Registration-generation flags are meaningless when serving and
// vice versa.
func (o *options) validate() error {
	if o.showVersion {
		return nil
	}
	if o.registrationPath == "" {
		return fmt.Errorf("--file is required")
	}
	if o.generate {
		if o.url == "" {
			return fmt.Errorf("--url is required with --generate-registration")
		}
		return nil
	}
	if o.url != "" {
		return fmt.Errorf("--url is only valid with --generate-registration")
	}
	if o.localpart != "" {
		return fmt.Errorf("--localpart is only valid with --generate-registration")
	}
	return nil
}

func run() error {
	opts, err := parseOptions(os.Args[1:])
	if err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}
	if err := opts.validate(); err != nil {
		return err
	}
	if opts.showVersion {
		fmt.Println("hookbridge " + version.Full())
		return nil
	}

	var cfg *config.Config
	if opts.configPath != "" {
		cfg, err = config.LoadFile(opts.configPath)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return err
	}
	if opts.listenAddress != "" {
		cfg.Web.ListenAddress = opts.listenAddress
	}
	if opts.databasePath != "" {
		cfg.Database.Path = opts.databasePath
	}
	if err := cfg.Validate(); err != nil {
		return err
	}

	logger := slog.New(slog.NewJSONHandler(os.Stderr, nil))

	if opts.generate {
		return generateRegistration(cfg, opts, logger)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return serve(ctx, cfg, opts, logger)
}

func generateRegistration(cfg *config.Config, opts *options, logger *slog.Logger) error {
	localpart := cfg.Bot.Localpart
	if opts.localpart != "" {
		localpart = opts.localpart
	}
	registration, err := appservice.Generate(localpart, cfg.ServerName())
	if err != nil {
		return err
	}
	registration.URL = opts.url
	if err := registration.Save(opts.registrationPath); err != nil {
		return err
	}
	logger.Info("registration file written",
		"path", opts.registrationPath,
		"sender_localpart", registration.SenderLocalpart)
	return nil
}

func serve(ctx context.Context, cfg *config.Config, opts *options, logger *slog.Logger) error {
	registration, err := appservice.Load(opts.registrationPath)
	if err != nil {
		return err
	}

	token, err := secret.NewFromBytes([]byte(registration.ASToken))
	if err != nil {
		return fmt.Errorf("sealing as_token: %w", err)
	}
	defer token.Close()

	client, err := messaging.NewClient(messaging.ClientConfig{
		HomeserverURL: cfg.Homeserver.URL,
		AccessToken:   token,
		Logger:        logger,
	})
	if err != nil {
		return err
	}
	defer client.CloseIdleConnections()

	// Fail fast if the homeserver is unreachable or not a Matrix server,
	// before provisioning touches the user namespace.
	versions, err := client.ServerVersions(ctx)
	if err != nil {
		return fmt.Errorf("homeserver unreachable: %w", err)
	}
	logger.Info("homeserver reachable",
		"url", cfg.Homeserver.URL,
		"versions", versions.Versions)

	provisioner := bridge.NewProvisioner(bridge.ProvisionerConfig{
		Client:     client,
		ServerName: cfg.ServerName(),
		Logger:     logger,
	})

	logger.Info("provisioning primary bot", "localpart", registration.SenderLocalpart)
	botSession, err := provisioner.EnsureIdentity(ctx,
		registration.SenderLocalpart, cfg.Bot.DisplayName, cfg.Bot.AvatarURL)
	if err != nil {
		return fmt.Errorf("provisioning primary bot: %w", err)
	}

	store, err := hookstore.Open(hookstore.Config{
		Path:   cfg.Database.Path,
		Logger: logger,
	})
	if err != nil {
		return err
	}
	defer store.Close()

	deliverer := bridge.NewDeliverer(bridge.DelivererConfig{
		Store:        store,
		Provisioner:  provisioner,
		BotSession:   botSession,
		BotLocalpart: registration.SenderLocalpart,
		Logger:       logger,
	})
	bot := bridge.NewBot(bridge.BotConfig{
		Session:         botSession,
		Store:           store,
		HookURL:         cfg.HookURL,
		SampleAvatarURL: cfg.Bot.AvatarURL,
		Logger:          logger,
	})

	// Full-state initial sync: learn current rooms and accept pending
	// invites, but do not replay old timelines through the command
	// handler. Commands are only processed from the incremental loop.
	since, initial, err := service.InitialSync(ctx, botSession, syncFilter)
	if err != nil {
		return fmt.Errorf("initial sync: %w", err)
	}
	service.AcceptInvites(ctx, botSession, initial.Rooms.Invite, logger)

	// A server failure must also stop the sync loop, so both run under
	// a context canceled by whichever exits first.
	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	server := service.NewHTTPServer(service.HTTPServerConfig{
		Address: cfg.Web.ListenAddress,
		Handler: bridge.NewHandler(deliverer, logger),
		Logger:  logger,
	})
	serverDone := make(chan error, 1)
	go func() {
		serverDone <- server.Serve(ctx)
		cancel()
	}()

	syncDone := make(chan struct{})
	go func() {
		defer close(syncDone)
		service.RunSyncLoop(ctx, botSession, service.SyncConfig{Filter: syncFilter},
			since, bot.HandleSync, clock.Real(), logger)
	}()

	select {
	case <-server.Ready():
		logger.Info("bridge running",
			"listen", server.Addr().String(),
			"bot", botSession.UserID().String())
	case <-ctx.Done():
	}

	<-ctx.Done()
	logger.Info("shutting down")
	<-syncDone
	if err := <-serverDone; err != nil {
		return fmt.Errorf("webhook server: %w", err)
	}
	return nil
}
