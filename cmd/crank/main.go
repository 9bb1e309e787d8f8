// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/helium/hpl/api"
	"github.com/helium/hpl/api/verifier"
	"github.com/helium/hpl/builtin"
	"github.com/helium/hpl/eventdb"
	"github.com/helium/hpl/health"
	"github.com/helium/hpl/hpl"
	"github.com/helium/hpl/kv"
	"github.com/helium/hpl/log"
	"github.com/helium/hpl/lvldb"
	"github.com/helium/hpl/metrics"
	"github.com/helium/hpl/runtime"
	"github.com/helium/hpl/state"
)

var (
	version   string
	gitCommit string
)

func fullVersion() string {
	if gitCommit == "" {
		return version + "-dev"
	}
	return fmt.Sprintf("%s-%s", version, gitCommit)
}

func main() {
	app := cli.App{
		Version: fullVersion(),
		Name:    "crank",
		Usage:   "task queue executor of the Helium delegation engine",
		Flags: []cli.Flag{
			dataDirFlag,
			configFlag,
			apiAddrFlag,
			queuesFlag,
			walletFlag,
			intervalFlag,
			daoFlag,
			verifierKeyFlag,
			enableMetricsFlag,
			verbosityFlag,
		},
		Action: run,
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func run(ctx *cli.Context) error {
	defer func() { log.Info("exited") }()
	initLogger(ctx)

	cfg := hpl.MainnetConfig()
	if path := ctx.String(configFlag.Name); path != "" {
		var err error
		if cfg, err = hpl.LoadConfig(path); err != nil {
			return err
		}
	}

	wallet, err := hpl.ParseAddress(ctx.String(walletFlag.Name))
	if err != nil {
		return fmt.Errorf("--wallet: %w", err)
	}
	queues := splitNames(ctx.String(queuesFlag.Name))
	if len(queues) == 0 {
		return fmt.Errorf("--queues: at least one queue name required")
	}
	var daoKey *hpl.Address
	if s := ctx.String(daoFlag.Name); s != "" {
		if daoKey, err = hpl.ParseAddress(s); err != nil {
			return fmt.Errorf("--dao: %w", err)
		}
	}

	if ctx.Bool(enableMetricsFlag.Name) {
		metrics.InitializePrometheusMetrics()
	}

	var store kv.Store
	eventPath := ":memory:"
	if dataDir := ctx.String(dataDirFlag.Name); dataDir != "" {
		if err := os.MkdirAll(dataDir, 0700); err != nil {
			return err
		}
		ldb, err := lvldb.New(filepath.Join(dataDir, "accounts"), lvldb.Options{})
		if err != nil {
			return err
		}
		defer func() { log.Info("closing account store..."); ldb.Close() }()
		store = ldb
		eventPath = filepath.Join(dataDir, "events.db")
	} else {
		mdb, err := lvldb.NewMem()
		if err != nil {
			return err
		}
		defer mdb.Close()
		store = mdb
	}

	edb, err := eventdb.New(eventPath)
	if err != nil {
		return err
	}
	defer func() { log.Info("closing event log..."); edb.Close() }()

	st := state.New(store)
	rt := runtime.New(st, cfg)
	rt.SetEventSink(edb)
	programs := builtin.New(st, cfg, rt)

	apiCfg := api.Config{
		EventDB:       edb,
		EnableMetrics: ctx.Bool(enableMetricsFlag.Name),
	}
	if keyPath := ctx.String(verifierKeyFlag.Name); keyPath != "" {
		key, err := loadVerifierKey(keyPath)
		if err != nil {
			return err
		}
		apiCfg.Verifier = verifier.New(key)
	}

	h := health.New(health.DefaultMaxPassGap)
	handler := api.New(h, programs.Daos, programs.SubDaos, programs.Tasks, apiCfg)

	interval := time.Duration(ctx.Uint64(intervalFlag.Name)) * time.Second
	c := newCrank(programs.Tasks, programs.Daos, queues, *wallet, daoKey, interval, h)

	srv := &http.Server{Addr: ctx.String(apiAddrFlag.Name), Handler: handler}
	exitCtx := handleExitSignal()
	h.BootstrapStatus(true)
	log.Info("starting", "version", fullVersion(), "api", srv.Addr, "queues", len(queues))

	var group errgroup.Group
	group.Go(func() error {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		return c.Run(exitCtx)
	})
	group.Go(func() error {
		<-exitCtx.Done()
		log.Info("stopping API server...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
