// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"flag"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hubdrive/pkg/config"
)

var (
	// Serial connection flags
	portName string
	baudRate int

	// WebSocket connection flags
	wsURL         string
	wsUsername    string
	wsNoSSLVerify bool

	// Addressing and configuration
	destination uint8
	configPath  string
)

var rootCmd = &cobra.Command{
	Use:   "hubdrive",
	Short: "HUGS wheel controller toolkit",
	Long: `Hubdrive - tools for hub motor wheel controllers speaking the HUGS protocol.

Provides a simulated wheel that runs the full controller core, plus commands
for sending commands, logging raw frames and detecting link errors.

Connection modes:
  Serial:    --port /dev/ttyUSB0 [--baud 115200]
  WebSocket: --url ws://host/path [--username user]

For WebSocket authentication, the password is read from the HUBDRIVE_PASSWORD
environment variable, or prompted interactively if not set. The --password
flag is intentionally not provided to avoid leaking credentials in shell history.

Logging uses glog; pass -v=1 or -v=2 for per-frame detail and
--logtostderr to log to the terminal.`,
	Version:       "0.3.0",
	SilenceUsage:  true,
	SilenceErrors: true,
}

func init() {
	// Serial connection flags
	rootCmd.PersistentFlags().StringVarP(&portName, "port", "p", "", "Serial port device")
	rootCmd.PersistentFlags().IntVarP(&baudRate, "baud", "b", 115200, "Baud rate (serial only)")

	// WebSocket connection flags
	rootCmd.PersistentFlags().StringVarP(&wsURL, "url", "u", "", "WebSocket URL (ws:// or wss://)")
	rootCmd.PersistentFlags().StringVar(&wsUsername, "username", "", "Username for HTTP Basic auth")
	rootCmd.PersistentFlags().BoolVar(&wsNoSSLVerify, "no-ssl-verify", false, "Skip TLS certificate verification (wss:// only)")

	rootCmd.PersistentFlags().Uint8VarP(&destination, "dest", "d", 0, "Destination wheel address (0-15)")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "YAML configuration file")

	// glog registers its flags on the standard flag set
	rootCmd.PersistentFlags().AddGoFlagSet(flag.CommandLine)
}

// loadConfig reads the configuration file and fills in connection flags
// the user did not set on the command line
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	flags := cmd.Flags()
	if !flags.Changed("port") && cfg.Link.Port != "" {
		portName = cfg.Link.Port
	}
	if !flags.Changed("baud") && cfg.Link.Baud != 0 {
		baudRate = cfg.Link.Baud
	}
	if destination > 0x0F {
		return nil, fmt.Errorf("destination %d out of range (0-15)", destination)
	}
	return cfg, nil
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}
