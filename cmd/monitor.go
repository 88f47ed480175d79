// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/hubdrive/pkg/hugs"
)

var (
	showAll       bool
	statsInterval int
	useTUI        bool
)

var monitorCmd = &cobra.Command{
	Use:     "monitor",
	Aliases: []string{"error_detection"},
	Short:   "Detect and analyze malformed frames and errors",
	Long: `Track frame errors, malformed data, and anomalous values with statistics.

This command validates each frame and detects:
  - CRC errors, bad terminators and invalid lengths
  - Malformed frames (payload length mismatches, unknown IDs)
  - Anomalous values (speed beyond 5000 mm/s, power beyond 1000)
  - Statistics and trends (frame rate, error rate, per-command counts)

By default, only errors are displayed. Use --show-all to display valid frames too.

Frames are validated in real-time, with errors highlighted immediately and
periodic statistics summaries displayed at configurable intervals.

Supports both serial and WebSocket connections.`,
	RunE: runMonitor,
}

func init() {
	rootCmd.AddCommand(monitorCmd)
	monitorCmd.Flags().BoolVar(&showAll, "show-all", false, "Show all frames (not just errors)")
	monitorCmd.Flags().IntVar(&statsInterval, "stats-interval", 10, "Statistics update interval (seconds)")
	monitorCmd.Flags().BoolVar(&useTUI, "tui", true, "Use terminal UI (false for text mode)")
}

func runMonitor(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return err
	}
	if statsInterval <= 0 {
		return fmt.Errorf("--stats-interval must be positive")
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	if useTUI {
		return runTUIMode(conn, connInfo)
	}
	return runTextMode(conn, connInfo)
}

// frameEvent is one decoder outcome
type frameEvent struct {
	frame            *hugs.Frame
	decodeErr        error
	validationErrors []hugs.ValidationError
}

// syncTracker ignores decode errors until the first valid frame
type syncTracker struct {
	synchronized bool
	skipped      int
}

// decodeStream reads conn until it fails, reporting every decoder outcome.
// Decode errors before the first valid frame are counted, not reported.
func decodeStream(conn Connection, onSync func(skipped int), onEvent func(frameEvent)) error {
	decoder := hugs.NewDecoder()
	sync := syncTracker{}
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) {
				return err
			}
			glog.Warningf("Read error: %v", err)
			time.Sleep(10 * time.Millisecond)
			continue
		}

		for i := 0; i < n; i++ {
			frame, decodeErr := decoder.DecodeByte(buf[i])

			if decodeErr != nil {
				if sync.synchronized {
					onEvent(frameEvent{decodeErr: decodeErr})
				} else {
					sync.skipped++
				}
				continue
			}
			if frame == nil {
				continue
			}

			if !sync.synchronized {
				sync.synchronized = true
				onSync(sync.skipped)
			}
			onEvent(frameEvent{frame: frame, validationErrors: hugs.ValidateFrame(frame)})
		}
	}
}

// printDecodeError prints a decode error in highlighted format
func printDecodeError(err error) {
	timestamp := time.Now().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mDECODE ERROR:\033[0m %v\n", timestamp, err)
	fmt.Printf("  >>> FRAME DROPPED <<<\n\n")
}

// printEstop prints an estop reply; these are always shown
func printEstop(frame *hugs.Frame) {
	timestamp := frame.Timestamp().Format("15:04:05.000")
	fmt.Printf("[%s] \033[1;31mESTOP:\033[0m wheel %d reports the emergency stop latched\n\n",
		timestamp, frame.Destination())
}

// printValidationErrors prints validation errors for a frame
func printValidationErrors(frame *hugs.Frame, errs []hugs.ValidationError) {
	timestamp := frame.Timestamp().Format("15:04:05.000")
	name := hugs.FormatCommand(frame.Command())

	fmt.Printf("[%s] \033[1;33mVALIDATION ERROR:\033[0m %s (0x%02X) rsp=%s\n",
		timestamp, name, frame.Command(), hugs.FormatResponse(frame.Response()))
	fmt.Printf("  CRC: \033[1;32mOK\033[0m\n")

	for i, err := range errs {
		switch err.Type {
		case hugs.AnomalyLengthMismatch:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)
			if length, ok := err.Details["length"].(int); ok {
				if expected, ok := err.Details["expected"].(int); ok {
					fmt.Printf("    Length: received=%d, expected=%d\n", length, expected)
				}
			}

		case hugs.AnomalyUnknownCommand, hugs.AnomalyUnknownResponse:
			fmt.Printf("  Issue %d: \033[1;31m%s\033[0m\n", i+1, err.Message)

		case hugs.AnomalyInvalidSpeed:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)
			if speed, ok := err.Details["speed"].(int16); ok {
				fmt.Printf("    Speed=%d mm/s (max %d)\n", speed, hugs.MaxSpeed)
			}

		case hugs.AnomalyInvalidPower:
			fmt.Printf("  Issue %d: \033[1;33m%s\033[0m\n", i+1, err.Message)

		default:
			fmt.Printf("  Issue %d: %s\n", i+1, err.Message)
		}
	}

	fmt.Printf("  Raw: %s\n", hugs.FormatBytes(frame.Payload()))
	fmt.Printf("  >>> FRAME REJECTED <<<\n\n")
}

// runTUIMode runs the monitor in TUI mode
func runTUIMode(conn Connection, connInfo string) error {
	m := initialModel(connInfo, statsInterval, showAll)
	p := tea.NewProgram(m)

	go func() {
		err := decodeStream(conn,
			func(skipped int) { p.Send(syncMsg{invalidFrames: skipped}) },
			func(ev frameEvent) { p.Send(frameDataMsg(ev)) },
		)
		p.Send(linkClosedMsg{err: err})
	}()

	if _, err := p.Run(); err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}

	return nil
}

// runTextMode runs the monitor in text mode
func runTextMode(conn Connection, connInfo string) error {
	fmt.Printf("Hubdrive - Link Monitor\n")
	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("Statistics interval: %d seconds\n", statsInterval)
	if showAll {
		fmt.Printf("Mode: All frames\n")
	} else {
		fmt.Printf("Mode: Errors only\n")
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	stats := hugs.NewStatistics()

	statsTicker := time.NewTicker(time.Duration(statsInterval) * time.Second)
	defer statsTicker.Stop()

	events := make(chan frameEvent, 64)
	synced := make(chan int, 1)
	done := make(chan error, 1)
	go func() {
		done <- decodeStream(conn,
			func(skipped int) { synced <- skipped },
			func(ev frameEvent) { events <- ev },
		)
	}()

	for {
		select {
		case skipped := <-synced:
			if skipped > 0 {
				fmt.Printf("[SYNC] Synchronized after dropping %d invalid frames\n\n", skipped)
			} else {
				fmt.Printf("[SYNC] Synchronized\n\n")
			}

		case ev := <-events:
			if ev.decodeErr != nil {
				stats.Update(nil, ev.decodeErr, nil)
				printDecodeError(ev.decodeErr)
				continue
			}

			stats.Update(ev.frame, nil, ev.validationErrors)
			switch {
			case len(ev.validationErrors) > 0:
				printValidationErrors(ev.frame, ev.validationErrors)
			case ev.frame.IsReply() && ev.frame.Response() == hugs.RspSTOP:
				printEstop(ev.frame)
			case showAll:
				fmt.Print(hugs.FormatFrame(ev.frame))
			}

		case <-statsTicker.C:
			fmt.Println()
			fmt.Print(stats.String())
			fmt.Println()

		case err := <-done:
			fmt.Println()
			fmt.Print(stats.String())
			if errors.Is(err, io.EOF) || errors.Is(err, ErrConnectionClosed) {
				return nil
			}
			return err
		}
	}
}
