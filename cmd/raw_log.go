// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"errors"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/hubdrive/pkg/hugs"
)

var (
	rawLogRecord string
	rawLogReplay string
	rawLogNoCRC  bool
)

var rawLogCmd = &cobra.Command{
	Use:   "raw_log",
	Short: "Display raw frame log in human-readable format",
	Long: `Continuously decode and display HUGS frames as they arrive.

Each frame is shown with timestamp, command, sequence, destination, requested
reply and decoded payload. Replies from a wheel are decoded per response ID.

--record appends every frame (and every rejected byte run) to a CBOR frame log.
--replay prints a previously recorded log instead of opening a connection.

Supports both serial and WebSocket connections.`,
	RunE: runRawLog,
}

func init() {
	rootCmd.AddCommand(rawLogCmd)
	rawLogCmd.Flags().StringVar(&rawLogRecord, "record", "", "Append frames to a CBOR frame log")
	rawLogCmd.Flags().StringVar(&rawLogReplay, "replay", "", "Print a CBOR frame log and exit")
	rawLogCmd.Flags().BoolVar(&rawLogNoCRC, "no-crc", false, "Accept frames without checking the CRC (historical firmware)")
}

func runRawLog(cmd *cobra.Command, args []string) error {
	if rawLogReplay != "" {
		return replayFrameLog(rawLogReplay)
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	var frameLog *hugs.FrameLogWriter
	if rawLogRecord != "" {
		f, err := os.OpenFile(rawLogRecord, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open frame log: %w", err)
		}
		defer f.Close()
		frameLog = hugs.NewFrameLogWriter(f)
	}

	fmt.Printf("Hubdrive - Raw Frame Log\n")
	fmt.Printf("Connection: %s\n", connInfo)
	if frameLog != nil {
		fmt.Printf("Recording: %s\n", rawLogRecord)
	}
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := hugs.NewDecoder()
	decoder.SetCRCCheck(!rawLogNoCRC)
	buf := make([]byte, 128)

	for {
		n, err := conn.Read(buf)
		if err != nil {
			if errors.Is(err, ErrConnectionClosed) || errors.Is(err, io.EOF) {
				glog.Infof("Connection closed")
				return nil
			}
			glog.Warningf("Read error: %v", err)
			continue
		}

		for i := 0; i < n; i++ {
			var pending []byte
			if frameLog != nil {
				pending = append(pending, decoder.Buffered()...)
			}
			frame, err := decoder.DecodeByte(buf[i])
			if err != nil {
				fmt.Printf("[ERROR] %v\n", err)
				if frameLog != nil {
					rejected := append(pending, buf[i])
					if werr := frameLog.Write(hugs.LogRecord{
						Time:      time.Now().UnixNano(),
						Direction: hugs.DirectionRx,
						Raw:       rejected,
						Error:     err.Error(),
					}); werr != nil {
						return werr
					}
				}
			}
			if frame != nil {
				fmt.Print(hugs.FormatFrame(frame))
				if frameLog != nil {
					if werr := frameLog.WriteFrame(hugs.DirectionRx, frame); werr != nil {
						return werr
					}
				}
			}
		}
	}
}

// replayFrameLog prints every record of a CBOR frame log
func replayFrameLog(path string) error {
	f, err := os.Open(path)
	if err != nil {
		return fmt.Errorf("failed to open frame log: %w", err)
	}
	defer f.Close()

	reader := hugs.NewFrameLogReader(f)
	count := 0
	for {
		rec, err := reader.Next()
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return err
		}
		count++

		direction := "RX"
		if rec.Direction == hugs.DirectionTx {
			direction = "TX"
		}
		if rec.Error != "" {
			fmt.Printf("[%s] %s [ERROR] %s: %s\n",
				rec.Timestamp().Format("15:04:05.000"), direction, rec.Error, hugs.FormatBytes(rec.Raw))
			continue
		}

		frame, err := rec.Frame(!rawLogNoCRC)
		if err != nil {
			fmt.Printf("[%s] %s [ERROR] %v\n", rec.Timestamp().Format("15:04:05.000"), direction, err)
			continue
		}
		fmt.Printf("%s ", direction)
		fmt.Print(hugs.FormatFrame(frame))
	}

	fmt.Printf("\n%d records\n", count)
	return nil
}
