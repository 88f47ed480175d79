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
	pingTimeout int
	pingCount   int
)

var pingCmd = &cobra.Command{
	Use:     "ping",
	Aliases: []string{"ws_ping"},
	Short:   "Measure round trips to a wheel with NOP/SDOG",
	Long: `Send NOP frames requesting an SDOG reply and wait for each reply.

A NOP changes nothing on the wheel but still feeds its watchdog, so pinging a
running wheel keeps it alive. The reply carries the wheel's watchdog interval.

This is useful for verifying:
  - the link is established (serial or WebSocket bridge)
  - HTTP Basic authentication works
  - the wheel decodes frames and answers
  - round trip latency of the link

Exit codes:
  0 - All pings successful
  1 - One or more pings failed/timed out
  2 - Connection error`,
	RunE: runPing,
}

func init() {
	rootCmd.AddCommand(pingCmd)
	pingCmd.Flags().IntVar(&pingTimeout, "timeout", 2, "Timeout in seconds for each ping")
	pingCmd.Flags().IntVar(&pingCount, "count", 3, "Number of pings to send")
}

func runPing(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return err
	}
	if pingCount <= 0 {
		return fmt.Errorf("--count must be positive")
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Connection error: %v\n", err)
		os.Exit(2)
	}
	defer conn.Close()

	fmt.Printf("Hubdrive - Ping\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Wheel: %d\n", destination)
	fmt.Printf("Timeout: %d seconds per ping\n", pingTimeout)
	fmt.Printf("Count: %d pings\n\n", pingCount)

	replies := newReplyStream(conn)
	successCount := 0
	failCount := 0
	var total, best, worst time.Duration

	for i := 1; i <= pingCount; i++ {
		fmt.Printf("Ping %d/%d: ", i, pingCount)

		seq := uint8(i) & hugs.MaxNibble
		frame := hugs.NewNOP(hugs.Header{Sequence: seq, Destination: destination, Response: hugs.RspSDOG})

		replies.drain()
		startTime := time.Now()
		if _, err := conn.Write(hugs.MustEncodeFrame(frame)); err != nil {
			fmt.Printf("SEND FAILED: %v\n", err)
			failCount++
			continue
		}

		reply, err := replies.await(time.Duration(pingTimeout) * time.Second)
		if err != nil {
			fmt.Printf("FAILED: %v\n", err)
			failCount++
		} else {
			rtt := time.Since(startTime)
			total += rtt
			if best == 0 || rtt < best {
				best = rtt
			}
			if rtt > worst {
				worst = rtt
			}
			successCount++

			parsed, perr := hugs.ParseReply(reply)
			switch {
			case perr != nil:
				fmt.Printf("reply from wheel %d (%v), rtt=%v\n", reply.Destination(), perr, rtt.Round(time.Millisecond))
			case parsed.Response == hugs.RspSTOP:
				fmt.Printf("ESTOP from wheel %d, rtt=%v\n", reply.Destination(), rtt.Round(time.Millisecond))
			default:
				fmt.Printf("reply from wheel %d seq=%d, watchdog=%d ms, rtt=%v\n",
					reply.Destination(), reply.Sequence(), parsed.WatchdogMS, rtt.Round(time.Millisecond))
			}
		}

		if i < pingCount {
			time.Sleep(100 * time.Millisecond)
		}
	}

	fmt.Printf("\n--- Ping statistics ---\n")
	fmt.Printf("%d pings sent, %d replies received, %.0f%% loss\n",
		pingCount, successCount, float64(failCount)/float64(pingCount)*100)
	if successCount > 0 {
		fmt.Printf("rtt min/avg/max = %v/%v/%v\n",
			best.Round(time.Microsecond),
			(total / time.Duration(successCount)).Round(time.Microsecond),
			worst.Round(time.Microsecond))
	}

	if failCount > 0 {
		os.Exit(1)
	}
	return nil
}
