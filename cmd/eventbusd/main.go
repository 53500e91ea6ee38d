// Package main is the entry point for the circuitry event bus daemon.
package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/nugget/circuitry/internal/buildinfo"
	"github.com/nugget/circuitry/internal/bus"
	"github.com/nugget/circuitry/internal/config"
	"github.com/nugget/circuitry/internal/contactsbridge"
	"github.com/nugget/circuitry/internal/forgebridge"
	"github.com/nugget/circuitry/internal/iosock"
	"github.com/nugget/circuitry/internal/ircproto"
	"github.com/nugget/circuitry/internal/mailbridge"
	"github.com/nugget/circuitry/internal/monitor"
	"github.com/nugget/circuitry/internal/mqttbridge"
	"github.com/nugget/circuitry/internal/pairing"

	_ "github.com/mattn/go-sqlite3"
)

func main() {
	configPath := flag.String("config", "", "path to config file")
	flag.Parse()

	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))

	if flag.NArg() > 0 {
		switch flag.Arg(0) {
		case "serve":
			runServe(logger, *configPath)
			return
		case "version":
			fmt.Println(buildinfo.String())
			for k, v := range buildinfo.BuildInfo() {
				fmt.Printf("  %-12s %s\n", k+":", v)
			}
			return
		default:
			fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
			os.Exit(1)
		}
	}

	fmt.Println("circuitry - component event bus daemon")
	fmt.Println()
	fmt.Println("Commands:")
	fmt.Println("  serve    Start the bus and configured bridges")
	fmt.Println("  version  Show version")
	fmt.Println()
	fmt.Println("Flags:")
	flag.PrintDefaults()
}

func runServe(logger *slog.Logger, configPath string) {
	logger.Info("starting circuitry", "version", buildinfo.Version, "commit", buildinfo.GitCommit, "built", buildinfo.BuildTime)

	cfgPath, err := config.FindConfig(configPath)
	if err != nil {
		logger.Error("config", "error", err)
		os.Exit(1)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		logger.Error("failed to load config", "path", cfgPath, "error", err)
		os.Exit(1)
	}

	if cfg.LogLevel != "" {
		level, err := config.ParseLogLevel(cfg.LogLevel)
		if err != nil {
			logger.Error("invalid log_level in config", "error", err)
			os.Exit(1)
		}
		logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
			Level:       level,
			ReplaceAttr: config.ReplaceLogLevelNames,
		}))
	}

	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		logger.Error("failed to create data directory", "path", cfg.DataDir, "error", err)
		os.Exit(1)
	}

	root := bus.NewComponent("", nil)
	root.Register(root)
	root.Configure(
		time.Duration(cfg.Bus.TickIntervalMS)*time.Millisecond,
		time.Duration(cfg.Bus.DrainTimeoutSec)*time.Second,
		time.Duration(cfg.Bus.JoinTimeoutSec)*time.Second,
	)
	logger.Info("bus root registered", "id", root.ID)

	var closers []func() error

	if cfg.MQTT.Configured() {
		br := mqttbridge.New(root, mqttbridge.Config{
			BrokerURL: cfg.MQTT.BrokerURL,
			ClientID:  cfg.MQTT.ClientID,
			Username:  cfg.MQTT.Username,
			Password:  cfg.MQTT.Password,
			Topics:    cfg.MQTT.Topics,
		}, logger)
		ctx, cancel := context.WithCancel(context.Background())
		if err := br.Start(ctx); err != nil {
			logger.Error("mqtt bridge failed to start", "error", err)
		} else {
			logger.Info("mqtt bridge started", "broker", cfg.MQTT.BrokerURL)
		}
		closers = append(closers, func() error { cancel(); return br.Stop(context.Background()) })
	}

	if cfg.Forge.Configured() {
		fb, err := forgebridge.New(root, forgebridge.Config{
			Owner:           cfg.Forge.Owner,
			Repo:            cfg.Forge.Repo,
			Token:           cfg.Forge.Token,
			PollIntervalSec: cfg.Forge.PollIntervalSec,
		}, logger)
		if err != nil {
			logger.Error("forge bridge failed to initialize", "error", err)
		} else {
			logger.Info("forge bridge started", "repo", cfg.Forge.Owner+"/"+cfg.Forge.Repo)
			_ = fb
		}
	}

	if cfg.Mail.Configured() {
		mailbridge.New(root, mailbridge.Config{
			Host:            cfg.Mail.Host,
			Port:            cfg.Mail.Port,
			Username:        cfg.Mail.Username,
			Password:        cfg.Mail.Password,
			Mailbox:         cfg.Mail.Mailbox,
			PollIntervalSec: cfg.Mail.PollIntervalSec,
		}, logger)
		logger.Info("mail bridge started", "host", cfg.Mail.Host)
	}

	if cfg.Contacts.Configured() {
		cb, err := contactsbridge.New(root, contactsbridge.Config{
			URL:             cfg.Contacts.URL,
			Username:        cfg.Contacts.Username,
			Password:        cfg.Contacts.Password,
			PollIntervalSec: cfg.Contacts.PollIntervalSec,
			SQLitePath:      cfg.Contacts.SQLitePath,
		}, logger)
		if err != nil {
			logger.Error("contacts bridge failed to initialize", "error", err)
		} else {
			logger.Info("contacts bridge started", "url", cfg.Contacts.URL)
			closers = append(closers, cb.Close)
		}
	}

	if cfg.Pairing.Enabled {
		pairing.New(root, pairing.Config{CodeTTLSec: cfg.Pairing.CodeTTLSec})
		logger.Info("pairing bridge started")
	}

	if cfg.IRC.Configured() {
		sock, err := iosock.Dial(root, cfg.IRC.Channel, cfg.IRC.Network, cfg.IRC.Address, logger)
		if err != nil {
			logger.Error("irc socket failed to dial", "address", cfg.IRC.Address, "error", err)
		} else {
			proto := ircproto.New(root, cfg.IRC.Channel)
			proto.SendNICK(cfg.IRC.Nick)
			proto.SendUSER(cfg.IRC.Ident, "*", cfg.IRC.Realname)
			logger.Info("irc bridge started", "address", cfg.IRC.Address, "nick", cfg.IRC.Nick)
			closers = append(closers, sock.Close)
		}
	}

	var mon *monitor.Monitor
	if cfg.Monitor.Enabled {
		tokenHash := ""
		if cfg.Monitor.Token != "" {
			h, err := monitor.HashToken(cfg.Monitor.Token)
			if err != nil {
				logger.Error("failed to hash monitor token", "error", err)
				os.Exit(1)
			}
			tokenHash = h
		}
		mon = monitor.New(root, monitor.Config{
			Address:   cfg.Monitor.Address,
			Port:      cfg.Monitor.Port,
			TokenHash: tokenHash,
		}, logger)
		go func() {
			if err := mon.Serve(); err != nil {
				logger.Error("monitor server failed", "error", err)
			}
		}()
		logger.Info("monitor listening", "address", cfg.Monitor.Address, "port", cfg.Monitor.Port)
	}

	if err := root.Start(bus.Background); err != nil {
		logger.Error("failed to start bus", "error", err)
		os.Exit(1)
	}
	logger.Info("bus running")

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	<-sigCh
	logger.Info("shutdown signal received")

	if err := root.Stop(); err != nil {
		logger.Error("bus stop error", "error", err)
	}
	if mon != nil {
		_ = mon.Close()
	}
	for _, closer := range closers {
		if err := closer(); err != nil {
			logger.Warn("bridge shutdown error", "error", err)
		}
	}

	logger.Info("circuitry stopped")
}
