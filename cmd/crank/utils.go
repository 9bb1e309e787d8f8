// Copyright (c) 2025 The Helium Program Library authors
//
// Distributed under the GNU Lesser General Public License v3.0 software license, see the accompanying
// file LICENSE or <https://www.gnu.org/licenses/lgpl-3.0.html>

package main

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"

	secp256k1 "github.com/decred/dcrd/dcrec/secp256k1/v4"
	"github.com/pkg/errors"
	cli "gopkg.in/urfave/cli.v1"

	"github.com/helium/hpl/log"
)

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

// handleExitSignal returns a context canceled on SIGINT/SIGTERM.
func handleExitSignal() context.Context {
	ctx, cancel := context.WithCancel(context.Background())
	go func() {
		sig := make(chan os.Signal, 1)
		signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
		<-sig
		log.Info("exit signal received", "signal", sig)
		cancel()
	}()
	return ctx
}

// loadVerifierKey reads a secp256k1 private key from a keypair file. Both hex
// strings and JSON byte arrays are accepted.
func loadVerifierKey(path string) (*secp256k1.PrivateKey, error) {
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

func splitNames(csv string) []string {
	var names []string
	for _, name := range strings.Split(csv, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
