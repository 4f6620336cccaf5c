// Copyright 2026 The Bureau Authors
// SPDX-License-Identifier: Apache-2.0

// librachat-homeserver serves the client API, realtime delivery, and
// the federation discovery endpoints for one server name.
package main

import (
	"context"
	"crypto/ed25519"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/pflag"

	"github.com/bureau-foundation/librachat/accounts"
	"github.com/bureau-foundation/librachat/api"
	"github.com/bureau-foundation/librachat/contacts"
	"github.com/bureau-foundation/librachat/delivery"
	"github.com/bureau-foundation/librachat/federation"
	"github.com/bureau-foundation/librachat/lib/accesstoken"
	"github.com/bureau-foundation/librachat/lib/clock"
	"github.com/bureau-foundation/librachat/lib/codec"
	"github.com/bureau-foundation/librachat/lib/config"
	"github.com/bureau-foundation/librachat/lib/httpserver"
	"github.com/bureau-foundation/librachat/lib/logging"
	"github.com/bureau-foundation/librachat/lib/process"
	"github.com/bureau-foundation/librachat/lib/ref"
	"github.com/bureau-foundation/librachat/lib/signing"
	"github.com/bureau-foundation/librachat/lib/version"
	"github.com/bureau-foundation/librachat/privmsg"
	"github.com/bureau-foundation/librachat/rooms"
	"github.com/bureau-foundation/librachat/store"
)

// maintenanceInterval is how often expired revocations and idle rate
// limiter entries are swept.
const maintenanceInterval = 10 * time.Minute

func main() {
	if err := run(); err != nil {
		process.Fatal(err)
	}
}

func run() error {
	var (
		configPath  string
		showVersion bool
	)
	flags := pflag.NewFlagSet("librachat-homeserver", pflag.ContinueOnError)
	flags.StringVar(&configPath, "config", "", "path to the homeserver config file (default $"+config.EnvironmentVariable+")")
	flags.BoolVar(&showVersion, "version", false, "print version information and exit")
	if err := flags.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}
	if showVersion {
		fmt.Printf("librachat-homeserver %s\n", version.Full())
		return nil
	}

	cfg, err := loadConfig(configPath)
	if err != nil {
		return err
	}
	logger, err := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	if err != nil {
		return err
	}
	serverName, err := ref.ParseServerName(cfg.ServerName)
	if err != nil {
		return err
	}
	compression, err := codec.ParseCompression(cfg.Storage.Compression)
	if err != nil {
		return err
	}
	if err := cfg.EnsurePaths(); err != nil {
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	realClock := clock.Real()

	signer := signing.NewSigner(signing.SignerConfig{
		ServerName:  serverName,
		KeyName:     cfg.Signing.KeyName,
		Load:        serverKeyLoader(cfg, logger),
		KeyValidity: cfg.Signing.KeyValidity.Std(),
		Clock:       realClock,
	})
	// Fail at startup, not on the first signed response.
	if err := signer.Init(); err != nil {
		return fmt.Errorf("loading server signing key: %w", err)
	}

	tokenKey, err := loadTokenKey(cfg, logger)
	if err != nil {
		return err
	}

	db, err := store.Open(ctx, store.Config{
		Path:        cfg.Paths.Database,
		ServerName:  serverName,
		Compression: compression,
		Logger:      logger,
	})
	if err != nil {
		return err
	}
	defer db.Close()

	accountService := accounts.New(accounts.Config{
		Store: db,
		Issuer: accesstoken.NewIssuer(accesstoken.IssuerConfig{
			PrivateKey: tokenKey,
			Issuer:     serverName.String(),
			Lifetime:   cfg.Tokens.Lifetime.Std(),
			Clock:      realClock,
		}),
		Blacklist: accesstoken.NewBlacklist(),
		Clock:     realClock,
		Logger:    logger,
	})
	if err := accountService.LoadRevocations(ctx); err != nil {
		return fmt.Errorf("loading token revocations: %w", err)
	}

	hub := delivery.NewHub(delivery.Config{
		Source:       db,
		Clock:        realClock,
		Logger:       logger,
		StreamBuffer: cfg.Delivery.StreamBuffer,
	})
	roomService := rooms.New(rooms.Config{
		Store:              db,
		Signer:             signer,
		Hub:                hub,
		Clock:              realClock,
		Logger:             logger,
		DefaultPollTimeout: cfg.Delivery.DefaultPollTimeout.Std(),
		MaxPollTimeout:     cfg.Delivery.MaxPollTimeout.Std(),
	})

	var gateway *federation.Gateway
	if cfg.Federation.Enabled {
		gateway = federation.New(federation.Config{
			Signer:        signer,
			Rooms:         roomService,
			Logger:        logger,
			PublicBaseURL: cfg.HTTP.PublicBaseURL,
		})
	}

	apiServer := api.New(api.Config{
		Accounts:          accountService,
		Rooms:             roomService,
		Contacts:          contacts.New(contacts.Config{Store: db, Clock: realClock, Logger: logger}),
		Messages:          privmsg.New(privmsg.Config{Store: db, Clock: realClock, Logger: logger}),
		Store:             db,
		Signer:            signer,
		Gateway:           gateway,
		Clock:             realClock,
		Logger:            logger,
		RequestsPerSecond: cfg.Limits.RequestsPerSecond,
		Burst:             cfg.Limits.Burst,
	})

	httpServer := httpserver.New(httpserver.Config{
		Address:         cfg.HTTP.ListenAddress,
		Handler:         apiServer.Handler(),
		ReadTimeout:     cfg.HTTP.ReadTimeout.Std(),
		WriteTimeout:    cfg.HTTP.WriteTimeout.Std(),
		ShutdownTimeout: cfg.HTTP.ShutdownTimeout.Std(),
		Logger:          logger,
	})
	httpServer.RegisterOnShutdown(apiServer.CloseStreams)

	go accountService.RunMaintenance(ctx, maintenanceInterval)
	go apiServer.RunMaintenance(ctx, maintenanceInterval)

	logger.Info("homeserver starting",
		"server_name", serverName.String(),
		"version", version.Info(),
		"environment", string(cfg.Environment),
		"key_id", signer.KeyID(),
		"federation", cfg.Federation.Enabled,
	)
	return httpServer.Serve(ctx)
}

func loadConfig(path string) (*config.Config, error) {
	var (
		cfg *config.Config
		err error
	)
	if path != "" {
		cfg, err = config.LoadFile(path)
	} else {
		cfg, err = config.Load()
	}
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid configuration: %w", err)
	}
	return cfg, nil
}

// serverKeyLoader returns the signing key source: the configured seed
// when set, otherwise the key file in the state directory, generated
// on first start.
func serverKeyLoader(cfg *config.Config, logger *slog.Logger) signing.KeyLoader {
	if cfg.Signing.Seed != "" {
		return func() (ed25519.PrivateKey, error) {
			return signing.KeyFromSeed(cfg.Signing.Seed)
		}
	}
	return func() (ed25519.PrivateKey, error) {
		_, private, generated, err := signing.LoadOrGenerateKeypair(cfg.Paths.State, signing.ServerKeyName)
		if err != nil {
			return nil, err
		}
		if generated {
			logger.Info("generated server signing key", "state_dir", cfg.Paths.State)
		}
		return private, nil
	}
}

// loadTokenKey loads the access token key from the state directory.
// Without a state directory the key is ephemeral and every token is
// invalidated by a restart.
func loadTokenKey(cfg *config.Config, logger *slog.Logger) (ed25519.PrivateKey, error) {
	if cfg.Paths.State == "" {
		logger.Warn("no state directory; access tokens will not survive a restart")
		_, private, err := signing.GenerateKeypair()
		return private, err
	}
	_, private, generated, err := signing.LoadOrGenerateKeypair(cfg.Paths.State, accesstoken.KeyName)
	if err != nil {
		return nil, fmt.Errorf("loading access token key: %w", err)
	}
	if generated {
		logger.Info("generated access token key", "state_dir", cfg.Paths.State)
	}
	return private, nil
}
