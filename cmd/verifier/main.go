// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

// The verifier binary serves the ECC signature verification endpoint
// standalone: GET /health and POST /verify, co-signing with the wallet named
// by ANCHOR_WALLET.
package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/gorilla/handlers"
	"github.com/gorilla/mux"
	"github.com/pkg/errors"
	"golang.org/x/sync/errgroup"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/helium/hpl/api/restutil"
	"github.com/helium/hpl/api/verifier"
	"github.com/helium/hpl/log"
	"github.com/helium/hpl/metrics"
)

var version string

var (
	apiAddrFlag = cli.StringFlag{
		Name:  "api-addr",
		Value: "localhost:8080",
		Usage: "API service listening address",
	}
	keypairFlag = cli.StringFlag{
		Name:   "keypair",
		EnvVar: "ANCHOR_WALLET",
		Usage:  "path to the verifier wallet keypair",
	}
	enableMetricsFlag = cli.BoolFlag{
		Name:  "enable-metrics",
		Usage: "serve prometheus metrics on GET /metrics",
	}
	verbosityFlag = cli.Uint64Flag{
		Name:  "verbosity",
		Value: 2,
		Usage: "log verbosity (0=error 1=warn 2=info 3=debug)",
	}
)

func main() {
	app := cli.App{
		Version: version,
		Name:    "verifier",
		Usage:   "ECC signature verification service",
		Flags: []cli.Flag{
			apiAddrFlag,
			keypairFlag,
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

func initLogger(ctx *cli.Context) {
	level := slog.LevelInfo
	switch ctx.Uint64(verbosityFlag.Name) {
	case 0:
		level = slog.LevelError
	case 1:
		level = slog.LevelWarn
	case 2:
		level = slog.LevelInfo
	default:
		level = slog.LevelDebug
	}
	log.SetRoot(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))
}

// loadKeypair reads a secp256k1 private key, hex or JSON byte array.
func loadKeypair(path string) (*secp256k1.PrivateKey, error) {
	if path == "" {
		return nil, errors.New("no keypair configured, set --keypair or ANCHOR_WALLET")
	}
	raw, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.Wrap(err, "read keypair")
	}
	text := strings.TrimSpace(string(raw))

	var keyBytes []byte
	if strings.HasPrefix(text, "[") {
		var ints []int
		if err := json.Unmarshal([]byte(text), &ints); err != nil {
			return nil, errors.Wrap(err, "decode keypair")
		}
		keyBytes = make([]byte, len(ints))
		for i, v := range ints {
			keyBytes[i] = byte(v)
		}
	} else {
		keyBytes, err = hex.DecodeString(strings.TrimPrefix(text, "0x"))
		if err != nil {
			return nil, errors.Wrap(err, "decode keypair")
		}
	}
	if len(keyBytes) < 32 {
		return nil, errors.New("keypair too short")
	}
	return secp256k1.PrivKeyFromBytes(keyBytes[:32]), nil
}

func run(ctx *cli.Context) error {
	defer func() { log.Info("exited") }()
	initLogger(ctx)

	key, err := loadKeypair(ctx.String(keypairFlag.Name))
	if err != nil {
		return err
	}
	if ctx.Bool(enableMetricsFlag.Name) {
		metrics.InitializePrometheusMetrics()
	}

	v := verifier.New(key)
	router := mux.NewRouter()
	router.Path("/health").
		Methods(http.MethodGet).
		HandlerFunc(restutil.WrapHandlerFunc(func(w http.ResponseWriter, _ *http.Request) error {
			return restutil.WriteJSON(w, map[string]bool{"healthy": true})
		}))
	v.Mount(router, "/verify")
	if ctx.Bool(enableMetricsFlag.Name) {
		router.Path("/metrics").Methods(http.MethodGet).Handler(metrics.Handler())
	}

	srv := &http.Server{
		Addr:    ctx.String(apiAddrFlag.Name),
		Handler: handlers.CORS(handlers.AllowedHeaders([]string{"content-type"}))(router),
	}

	exitCtx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		cancel()
	}()

	log.Info("starting", "api", srv.Addr, "pubkey", hex.EncodeToString(v.PublicKey()))

	var group errgroup.Group
	group.Go(func() error {
		if err := srv.ListenAndServe(); err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	group.Go(func() error {
		<-exitCtx.Done()
		log.Info("stopping API server...")
		shutdownCtx, cancelShutdown := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancelShutdown()
		return srv.Shutdown(shutdownCtx)
	})
	return group.Wait()
}
