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

var (
	frameTestTimeout int
	frameTestPoll    bool
)

var packetTestCmd = &cobra.Command{
	Use:   "packet_test",
	Short: "Test connection by waiting for a valid HUGS frame",
	Long: `Wait for a valid HUGS frame on the connection until timeout.

This command connects to a serial port or WebSocket and waits for any valid
HUGS frame. It ignores invalid bytes and waits for a complete frame with a
matching CRC and terminator.

A wheel only talks when asked, so --poll (the default) sends a NOP requesting
an SMOT reply every second while waiting.

Exit codes:
  0 - Frame received before timeout
  1 - Timeout reached without receiving a valid frame
  2 - Connection error`,
	RunE: runPacketTest,
}

func init() {
	rootCmd.AddCommand(packetTestCmd)
	packetTestCmd.Flags().IntVar(&frameTestTimeout, "timeout", 10, "Timeout in seconds to wait for a frame")
	packetTestCmd.Flags().BoolVar(&frameTestPoll, "poll", true, "Poll the wheel with NOP/SMOT while waiting")
}

func runPacketTest(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd); err != nil {
		fmt.Fprintf(os.Stderr, "Configuration error: %v\n", err)
		os.Exit(2)
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Hubdrive - Frame Test\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Timeout: %d seconds\n", frameTestTimeout)
	fmt.Printf("Waiting for valid HUGS frame...\n\n")

	decoder := hugs.NewDecoder()
	buf := make([]byte, 128)

	frameChan := make(chan *hugs.Frame, 1)
	errChan := make(chan error, 1)

	go func() {
		invalidBytes := 0
		for {
			n, err := conn.Read(buf)
			if err != nil {
				errChan <- err
				return
			}

			for i := 0; i < n; i++ {
				frame, decodeErr := decoder.DecodeByte(buf[i])
				if decodeErr != nil {
					invalidBytes++
					continue
				}
				if frame != nil {
					if invalidBytes > 0 {
						fmt.Printf("(skipped %d invalid frames before sync)\n", invalidBytes)
					}
					frameChan <- frame
					return
				}
			}
		}
	}()

	poll := time.NewTicker(time.Second)
	defer poll.Stop()
	timeout := time.After(time.Duration(frameTestTimeout) * time.Second)

	var seq uint8
	sendPoll := func() {
		if !frameTestPoll {
			return
		}
		seq = (seq + 1) & hugs.MaxNibble
		f := hugs.NewNOP(hugs.Header{Sequence: seq, Destination: destination, Response: hugs.RspSMOT})
		if _, err := conn.Write(hugs.MustEncodeFrame(f)); err != nil {
			errChan <- err
		}
	}
	sendPoll()

	for {
		select {
		case frame := <-frameChan:
			fmt.Printf("SUCCESS: Received valid frame\n")
			fmt.Printf("  Command: %s (0x%02X)\n", hugs.FormatCommand(frame.Command()), frame.Command())
			fmt.Printf("  Response: %s (0x%02X)\n", hugs.FormatResponse(frame.Response()), frame.Response())
			fmt.Printf("  Sequence: %d  Destination: %d\n", frame.Sequence(), frame.Destination())
			fmt.Printf("  Length: %d bytes\n", frame.Length())
			fmt.Printf("  CRC: 0x%04X\n", frame.CRC())
			os.Exit(0)

		case err := <-errChan:
			fmt.Fprintf(os.Stderr, "Read error: %v\n", err)
			os.Exit(2)

		case <-poll.C:
			sendPoll()

		case <-timeout:
			fmt.Fprintf(os.Stderr, "TIMEOUT: No valid frame received within %d seconds\n", frameTestTimeout)
			os.Exit(1)
		}
	}
}
