package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/podlink/podlink/config"
	"github.com/podlink/podlink/connect"
	"github.com/podlink/podlink/envelope"
	"github.com/podlink/podlink/oidc"
	"github.com/podlink/podlink/pod"
	"github.com/podlink/podlink/store/bolt"
	"github.com/podlink/podlink/store/inmem"
	"github.com/podlink/podlink/store/postgres"
)

var rootCmd = &cobra.Command{
	Use:   "podlink",
	Short: "Link a Pod and sync portable state",
	Long: `podlink connects a user account to their Pod via OIDC with PKCE,
stores the credentials encrypted, and synchronizes the portable document
set (profile, preferences, activity ledger) with the Pod.`,
	SilenceUsage: true,
}

var userID string

func init() {
	rootCmd.PersistentFlags().StringVar(&userID, "user", "", "application user id the connection belongs to")
}

// app bundles everything a command needs, built once from configuration.
type app struct {
	cfg     *config.Config
	store   pod.Store
	service *connect.Service
	close   func()
}

func newApp(cmd *cobra.Command) (*app, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, err
	}
	logger := cfg.Logger("podlink")

	var (
		store  pod.Store
		closer = func() {}
	)
	switch {
	case cfg.PostgresDSN != "":
		pg, err := postgres.Open(cmd.Context(), cfg.PostgresDSN)
		if err != nil {
			return nil, err
		}
		if err := pg.Migrate(cmd.Context()); err != nil {
			pg.Close()
			return nil, err
		}
		store, closer = pg, func() { _ = pg.Close() }
	case cfg.BoltPath != "":
		bs, err := bolt.Open(cfg.BoltPath)
		if err != nil {
			return nil, err
		}
		store, closer = bs, func() { _ = bs.Close() }
	default:
		logger.Warn("no store configured, connections will not survive this process")
		store = inmem.New()
	}

	cipher, err := envelope.NewCipher(cfg.TokenEncryptionKey)
	if err != nil {
		closer()
		return nil, err
	}
	flow, err := oidc.NewFlow(cfg.ClientID,
		oidc.WithFlowTimeout(cfg.HTTPTimeout),
		oidc.WithLogger(logger),
	)
	if err != nil {
		closer()
		return nil, err
	}
	service, err := connect.NewService(flow, cipher, store, cfg.RedirectURL(),
		connect.WithActivityLedger(cfg.ActivityLedgerEnabled),
		connect.WithServiceLogger(logger),
	)
	if err != nil {
		closer()
		return nil, err
	}
	return &app{cfg: cfg, store: store, service: service, close: closer}, nil
}

func requireUser() error {
	if userID == "" {
		return fmt.Errorf("--user is required")
	}
	return nil
}
