// SPDX-FileCopyrightText: (C) 2026 Silicon Key Authors
// SPDX-License-Identifier: Apache 2.0

package main

import (
	"encoding/hex"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"hermannm.dev/devlog"
)

var (
	dbPath   string
	aaguid   string
	debug    bool
	logLevel slog.LevelVar
)

var rootCmd = &cobra.Command{
	CompletionOptions: cobra.CompletionOptions{
		DisableDefaultCmd: true,
	},
	Use:   "authenticator",
	Short: "Simulate a CTAP2 authenticator core from the command line",
	Long: `authenticator drives a ctap2.Authenticator against a local bbolt
database, without a real transport. It is meant for exercising the
GetInfo, MakeCredential, GetAssertion and Reset commands interactively or
from a script.`,
}

// Execute adds all child commands to the root command and runs it. Called
// once from main.main.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	slog.SetDefault(slog.New(devlog.NewHandler(os.Stdout, &devlog.Options{
		Level: &logLevel,
	})))

	rootCmd.PersistentFlags().Bool("debug", false, "print debug logging")
	rootCmd.PersistentFlags().String("db", "authenticator.db", "bbolt database file path")
	rootCmd.PersistentFlags().String("aaguid", "", "32 hex character AAGUID override")

	if err := viper.BindPFlags(rootCmd.PersistentFlags()); err != nil {
		panic(err)
	}
	viper.SetEnvPrefix("authenticator")
	viper.AutomaticEnv()
}

func loadRootConfig() error {
	debug = viper.GetBool("debug")
	if debug {
		logLevel.Set(slog.LevelDebug)
	}
	dbPath = viper.GetString("db")
	aaguid = viper.GetString("aaguid")
	if aaguid != "" {
		if _, err := hex.DecodeString(aaguid); err != nil {
			return fmt.Errorf("invalid --aaguid: %w", err)
		}
	}
	return nil
}
