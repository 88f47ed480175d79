// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hubdrive/pkg/hugs"
)

var infoTimeout time.Duration

var infoCmd = &cobra.Command{
	Use:     "info",
	Aliases: []string{"discovery"},
	Short:   "Query every telemetry reply of one wheel",
	Long: `Poll one wheel with a NOP for each reply shape and print the result.

A NOP does not change the wheel, so this is safe on a running wheel. The
queries cover motion (SMOT), battery voltage (SVOL), DC current (SAMP),
watchdog interval (SDOG), speed mode (SMOD) and the PIDF terms (SFPI).

Examples:
  hubdrive info --port /dev/ttyUSB0
  hubdrive info --url ws://bridge.local/hugs --dest 2

Exit codes:
  0 - Every query answered
  1 - One or more queries failed
  2 - Connection error`,
	RunE: runInfo,
}

func init() {
	rootCmd.AddCommand(infoCmd)
	infoCmd.Flags().DurationVar(&infoTimeout, "timeout", time.Second, "Timeout for each query")
}

// infoQueries are the reply shapes queried, in print order
var infoQueries = []uint8{
	hugs.RspSMOT,
	hugs.RspSVOL,
	hugs.RspSAMP,
	hugs.RspSDOG,
	hugs.RspSMOD,
	hugs.RspSFPI,
}

func runInfo(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Hubdrive - Wheel Info\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Wheel: %d\n\n", destination)

	replies := newReplyStream(conn)
	failed := 0

	for i, rsp := range infoQueries {
		frame := hugs.NewNOP(hugs.Header{Sequence: uint8(i), Destination: destination, Response: rsp})
		replies.drain()
		if _, err := conn.Write(hugs.MustEncodeFrame(frame)); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			os.Exit(2)
		}

		reply, err := replies.await(infoTimeout)
		if err != nil {
			fmt.Printf("  %-5s %v\n", hugs.FormatResponse(rsp), err)
			failed++
			continue
		}

		parsed, err := hugs.ParseReply(reply)
		if err != nil {
			fmt.Printf("  %-5s %v\n", hugs.FormatResponse(rsp), err)
			failed++
			continue
		}
		if parsed.Response == hugs.RspSTOP {
			fmt.Printf("  Wheel is in emergency stop; every query answers STOP until ENA\n")
			os.Exit(1)
		}
		fmt.Printf("  %-5s %s\n", hugs.FormatResponse(rsp), formatReply(parsed))
	}

	fmt.Printf("\n--- Info summary ---\n")
	fmt.Printf("%d queries, %d answered\n", len(infoQueries), len(infoQueries)-failed)
	if failed > 0 {
		os.Exit(1)
	}
	return nil
}
