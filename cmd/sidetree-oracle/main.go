package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"strings"

	"github.com/anchorwatch/sidetree-oracle/internal/chain"
	"github.com/anchorwatch/sidetree-oracle/internal/config"
	"github.com/anchorwatch/sidetree-oracle/internal/core"
	"github.com/anchorwatch/sidetree-oracle/internal/dblevel"
	"github.com/anchorwatch/sidetree-oracle/internal/dbpebble"
	"github.com/anchorwatch/sidetree-oracle/internal/logging"
	"github.com/anchorwatch/sidetree-oracle/internal/server"
	"github.com/anchorwatch/sidetree-oracle/internal/store"
	"github.com/anchorwatch/sidetree-oracle/internal/writer"
)

var (
	datadir        string
	displayVersion bool
	Version        = "0.1.0"
)

func init() {
	flag.StringVar(
		&datadir,
		"datadir",
		config.DefaultBaseDirectory,
		"Set the base directory for sidetree-oracle. Default directory is ~/.sidetree-oracle",
	)
	flag.BoolVar(
		&displayVersion,
		"version",
		false,
		"show version of sidetree-oracle",
	)
	flag.Parse()
}

func resolvePath(p string) string {
	if strings.HasPrefix(p, "~") {
		home, err := os.UserHomeDir()
		if err == nil {
			return filepath.Join(home, strings.TrimPrefix(p, "~"))
		}
	}
	return p
}

func main() {
	if displayVersion {
		fmt.Println("sidetree-oracle version:", Version) // using fmt because loggers are not initialised
		os.Exit(0)
	}
	defer logging.L.Info().Msg("Program shut down")

	base := resolvePath(datadir)
	if err := os.MkdirAll(base, 0750); err != nil && !errors.Is(err, os.ErrExist) {
		logging.L.Fatal().Err(err).Msg("error creating base directory")
	}
	logging.L.Info().Msgf("base directory %s", base)

	cfg, err := config.Load(filepath.Join(base, config.ConfigFileName))
	if err != nil {
		logging.L.Fatal().Err(err).Msg("error loading config")
	}
	cfg.BaseDirectory = base
	cfg.SetDirectories()

	if err := os.MkdirAll(cfg.DBPath, 0750); err != nil && !errors.Is(err, os.ErrExist) {
		logging.L.Fatal().Err(err).Msg("error creating db path")
	}

	if cfg.LogsPath != "" {
		if err := logging.SetLogOutput(cfg.LogsPath, "sidetree-oracle.log", cfg.LogToConsole); err != nil {
			logging.L.Warn().Err(err).Msg("Failed to initialize file logging")
		}
		defer logging.Close()
	}

	interrupt := make(chan os.Signal, 1)
	signal.Notify(interrupt, os.Interrupt)

	logging.L.Info().Msg("Program Started")

	client := chain.NewBitcoindClient(cfg.BitcoindConfig(), logging.L.With().Str("component", "chain").Logger())

	txlog, qstore, closeStores, err := openStores(cfg)
	if err != nil {
		logging.L.Fatal().Err(err).Msg("failed opening stores")
	}
	defer closeStores()

	quantile, err := core.NewQuantileCalculator(qstore, cfg.QuantileConfig(), logging.L.With().Str("component", "quantile").Logger())
	if err != nil {
		logging.L.Fatal().Err(err).Msg("failed restoring quantile state")
	}

	engine := core.NewEngine(client, txlog, quantile, cfg.EngineConfig(), logging.L.With().Str("component", "engine").Logger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var anchorWriter *writer.Writer
	if cfg.WalletWIF != "" {
		anchorWriter, err = writer.NewWriter(
			client,
			cfg.Network,
			cfg.WalletWIF,
			[]byte(cfg.SidetreeTransactionPrefix),
			cfg.AnchorFeeSatoshis,
			logging.L.With().Str("component", "writer").Logger(),
		)
		if err != nil {
			logging.L.Fatal().Err(err).Msg("failed setting up anchor writer")
		}
		if err := anchorWriter.EnsureWatched(ctx); err != nil {
			logging.L.Fatal().Err(err).Msg("failed importing anchor address")
		}
	}

	api := &server.ApiHandler{
		Client:     client,
		Log:        txlog,
		Quantile:   quantile,
		Engine:     engine,
		Writer:     anchorWriter,
		PageSize:   cfg.TransactionFetchPageSize,
		ProofOfFee: cfg.ProofOfFeeConfig(),
		Network:    cfg.Network,
		Version:    Version,
	}

	errChan := make(chan error)

	// so queries can be served while the initial catch-up is running
	go server.RunServer(cfg.HTTPHost, api)

	go func() {
		if err := engine.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
			errChan <- err
		}
	}()

	select {
	case <-interrupt:
		cancel()
		logging.L.Info().Msg("Program interrupted")
	case err := <-errChan:
		cancel()
		logging.L.Err(err).Msg("program failed")
	}
}

func openStores(cfg *config.Config) (store.TransactionLog, store.QuantileStore, func(), error) {
	switch cfg.StorageBackend {
	case config.BackendPebble:
		db, err := dbpebble.OpenDB(cfg.DBPathPebble())
		if err != nil {
			return nil, nil, nil, err
		}
		st := dbpebble.NewStore(db)
		closeFn := func() {
			if err := db.Close(); err != nil {
				logging.L.Err(err).Msg("db close failed")
			}
		}
		return st, st, closeFn, nil
	default:
		txDB := dblevel.OpenDBConnection(cfg.DBPathTransactions())
		qDB := dblevel.OpenDBConnection(cfg.DBPathQuantileSnapshots())
		closeFn := func() {
			if err := txDB.Close(); err != nil {
				logging.L.Err(err).Msg("db close failed")
			}
			if err := qDB.Close(); err != nil {
				logging.L.Err(err).Msg("db close failed")
			}
		}
		return dblevel.NewTransactionLog(txDB), dblevel.NewQuantileStore(qDB), closeFn, nil
	}
}
