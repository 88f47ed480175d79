// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hubdrive/pkg/bldc"
	"github.com/Thermoquad/hubdrive/pkg/board"
)

var (
	hallChip     string
	hallLines    []int
	hallInterval time.Duration
	hallEdges    bool
)

var hallMonitorCmd = &cobra.Command{
	Use:   "hall_monitor",
	Short: "Watch Hall sensor lines on a Linux GPIO chip",
	Long: `Read the three Hall sensor lines of a hub motor from a Linux gpiochip and
print the decoded sector, rotation direction, odometry and wheel speed.

Turn the wheel by hand to check the wiring: the sector must step through all
six values in order, and the two impossible codes (000 and 111) must never
appear. A reversed sequence means two Hall lines are swapped.

Lines are given as a, b, c offsets; the code is a + 2b + 4c.

Example:
  hubdrive hall_monitor --chip gpiochip0 --lines 17,27,22 --edges`,
	RunE: runHallMonitor,
}

func init() {
	rootCmd.AddCommand(hallMonitorCmd)
	hallMonitorCmd.Flags().StringVar(&hallChip, "chip", "", "GPIO chip (default from configuration)")
	hallMonitorCmd.Flags().IntSliceVar(&hallLines, "lines", nil, "Hall line offsets a,b,c (default from configuration)")
	hallMonitorCmd.Flags().DurationVar(&hallInterval, "interval", time.Second, "Summary interval")
	hallMonitorCmd.Flags().BoolVar(&hallEdges, "edges", false, "Print every edge")
}

func runHallMonitor(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if hallChip == "" {
		hallChip = cfg.Board.Chip
	}
	if len(hallLines) == 0 {
		hallLines = cfg.Board.HallLines
	}
	profile, err := bldc.ProfileByName(cfg.Motor.Profile)
	if err != nil {
		return err
	}
	if hallInterval <= 0 {
		return fmt.Errorf("--interval must be positive")
	}

	codes := make(chan uint8, 256)
	var overruns atomic.Uint64
	hall, err := board.OpenHall(hallChip, hallLines, board.WithEdgeHandler(func(code uint8) {
		select {
		case codes <- code:
		default:
			overruns.Add(1)
		}
	}))
	if err != nil {
		return err
	}
	defer hall.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	fmt.Printf("Hubdrive - Hall Monitor\n")
	fmt.Printf("Chip: %s  Lines: a=%d b=%d c=%d  Profile: %s\n",
		hallChip, hallLines[0], hallLines[1], hallLines[2], profile.Name)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	decoder := bldc.NewHallDecoder(profile, 0)
	first := hall.ReadHall()
	decoder.Update(first)
	fmt.Printf("Initial code %03b -> %s\n", first, formatSector(profile, profile.Decode(first)))

	ticker := time.NewTicker(hallInterval)
	defer ticker.Stop()
	lastCycles := decoder.Cycles()
	lastTime := time.Now()

	for {
		select {
		case <-ctx.Done():
			fmt.Printf("\n--- Hall summary ---\n")
			fmt.Printf("Edges: %d  Transitions: %d  Invalid codes: %d\n",
				hall.Edges(), decoder.Cycles(), decoder.InvalidCount())
			return nil

		case code := <-codes:
			moved := decoder.Update(code)
			if hallEdges {
				sector := profile.Decode(code)
				note := ""
				switch {
				case !profile.Valid(sector):
					note = " INVALID"
				case moved:
					note = fmt.Sprintf(" dir=%+d", decoder.Direction())
				}
				fmt.Printf("[%s] code %03b -> %s%s\n",
					time.Now().Format("15:04:05.000"), code, formatSector(profile, sector), note)
			}

		case now := <-ticker.C:
			cycles := decoder.Cycles()
			dt := now.Sub(lastTime).Seconds()
			speed := float64(cycles-lastCycles) * bldc.MMPerCycle / dt
			lastCycles, lastTime = cycles, now

			fmt.Printf("sector=%s dir=%+d cycles=%d position=%.0f mm speed=%.0f mm/s invalid=%d",
				formatSector(profile, decoder.Sector()), decoder.Direction(), cycles,
				float64(cycles)*bldc.MMPerCycle, speed, decoder.InvalidCount())
			if n := overruns.Load(); n > 0 {
				fmt.Printf(" overruns=%d", n)
			}
			fmt.Println()
		}
	}
}

// formatSector renders a sector with its zero-based index
func formatSector(p *bldc.Profile, sector uint8) string {
	if !p.Valid(sector) {
		return fmt.Sprintf("%d (sentinel)", sector)
	}
	return fmt.Sprintf("%d (#%d)", sector, p.Index(sector))
}
