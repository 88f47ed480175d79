// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/golang/glog"
	"github.com/spf13/cobra"
	"go.uber.org/multierr"

	"github.com/Thermoquad/hubdrive/pkg/config"
	"github.com/Thermoquad/hubdrive/pkg/hugs"
	"github.com/Thermoquad/hubdrive/pkg/sim"
	"github.com/Thermoquad/hubdrive/pkg/telemetry"
	"github.com/Thermoquad/hubdrive/pkg/wheel"
)

var (
	simListen       string
	simPath         string
	simRecord       string
	simStatus       time.Duration
	simSpeed        int16
	simNoTelemetry  bool
	simWriteConfig  string
	simFrameLogPath string
)

var simulateCmd = &cobra.Command{
	Use:   "simulate",
	Short: "Run a simulated wheel controller",
	Long: `Run the wheel controller core against a simulated hub motor in real time.

The simulated wheel answers HUGS commands exactly like the firmware: the
watchdog, estop latch, speed modes and every reply shape are live.

Link modes:
  Serial:    --port /dev/ttyUSB1      act as the wheel on a serial port
  WebSocket: --listen :8080           serve the wheel at ws://host:8080/hugs
  None:      --speed 500              drive the wheel locally, no link

Telemetry snapshots (CBOR) are published every telemetry.interval_ms to the
MQTT broker and AMQP exchange named in the configuration file, and recorded
with --record.

Examples:
  hubdrive simulate --listen :8080
  hubdrive simulate --port /dev/pts/3 --config wheel.yaml -v=1 --logtostderr
  hubdrive simulate --speed 800 --record run.cbor`,
	RunE: runSimulate,
}

func init() {
	rootCmd.AddCommand(simulateCmd)
	simulateCmd.Flags().StringVar(&simListen, "listen", "", "Serve the wheel over WebSocket on this address")
	simulateCmd.Flags().StringVar(&simPath, "path", "/hugs", "WebSocket endpoint path")
	simulateCmd.Flags().StringVar(&simRecord, "record", "", "Record telemetry snapshots to a CBOR file")
	simulateCmd.Flags().DurationVar(&simStatus, "status", time.Second, "Status line interval (0 disables)")
	simulateCmd.Flags().Int16Var(&simSpeed, "speed", 0, "Drive at this speed in mm/s without a link")
	simulateCmd.Flags().BoolVar(&simNoTelemetry, "no-telemetry", false, "Do not connect to MQTT or AMQP")
	simulateCmd.Flags().StringVar(&simWriteConfig, "write-config", "", "Write the effective configuration to a YAML file and exit")
	simulateCmd.Flags().StringVar(&simFrameLogPath, "frame-log", "", "Append received frames to a CBOR frame log")
}

// simulation is one simulated wheel and everything attached to it
type simulation struct {
	ctrl  *wheel.Controller
	plant *sim.Wheel

	link     io.ReadWriteCloser
	linkInfo string
	bridge   *wsBridge

	pipeline *telemetry.Pipeline
	closers  []io.Closer
}

// Close releases the link and the telemetry publishers
func (s *simulation) Close() error {
	var err error
	if s.link != nil {
		err = multierr.Append(err, s.link.Close())
	}
	for i := len(s.closers) - 1; i >= 0; i-- {
		err = multierr.Append(err, s.closers[i].Close())
	}
	return err
}

func newSimulation(cfg *config.Config) (*simulation, error) {
	wcfg, err := cfg.WheelConfig()
	if err != nil {
		return nil, err
	}
	plant, err := sim.NewWheel(cfg.SimConfig(wcfg.Motor))
	if err != nil {
		return nil, fmt.Errorf("sim: %w", err)
	}
	ctrl, err := wheel.NewController(wcfg, plant, plant, plant)
	if err != nil {
		return nil, err
	}
	return &simulation{ctrl: ctrl, plant: plant}, nil
}

// openTelemetry connects the publishers named by the configuration
func (s *simulation) openTelemetry(ctx context.Context, cfg *config.Config, node string) error {
	var pubs telemetry.Multi

	record := cfg.Telemetry.RecordPath
	if simRecord != "" {
		record = simRecord
	}
	if record != "" {
		rec, err := telemetry.CreateRecorder(record)
		if err != nil {
			return err
		}
		pubs = append(pubs, rec)
		glog.Infof("recording telemetry to %s", record)
	}

	if !simNoTelemetry && cfg.Telemetry.MQTT.Broker != "" {
		m := cfg.Telemetry.MQTT
		pub, err := telemetry.DialMQTT(ctx, node, telemetry.MQTTOptions{
			Broker:   m.Broker,
			Topic:    m.Topic,
			ClientID: m.ClientID,
			Username: m.Username,
			Password: m.Password,
			QoS:      m.QoS,
		})
		if err != nil {
			return multierr.Append(err, pubs.Close())
		}
		pubs = append(pubs, pub)
		glog.Infof("publishing telemetry to %s", pub.Topic())
	}

	if !simNoTelemetry && cfg.Telemetry.AMQP.URL != "" {
		pub, err := telemetry.DialAMQP(cfg.Telemetry.AMQP.URL, cfg.Telemetry.AMQP.Exchange, node)
		if err != nil {
			return multierr.Append(err, pubs.Close())
		}
		pubs = append(pubs, pub)
		glog.Infof("publishing telemetry to exchange %s", cfg.Telemetry.AMQP.Exchange)
	}

	if len(pubs) == 0 {
		return nil
	}
	s.pipeline = telemetry.NewPipeline(node, pubs)
	s.closers = append(s.closers, pubs)
	return nil
}

// openLink attaches the serial port or WebSocket bridge
func (s *simulation) openLink(cfg *config.Config) error {
	listen := simListen
	if listen == "" && portName == "" {
		listen = cfg.Link.Listen
	}

	switch {
	case portName != "":
		conn, err := OpenSerialConnection(portName, baudRate)
		if err != nil {
			return err
		}
		s.link = conn
		s.linkInfo = fmt.Sprintf("Serial: %s @ %d baud", portName, baudRate)
	case listen != "":
		s.bridge = newWSBridge()
		s.link = s.bridge
		s.linkInfo = fmt.Sprintf("WebSocket: ws://%s%s", listen, simPath)
		simListen = listen
	}
	return nil
}

// driveLocally enables the wheel and sets its speed without a link. The
// watchdog is turned off since nothing will feed it.
func (s *simulation) driveLocally(speed int16) {
	enc := hugs.NewEncoder(true)
	h := hugs.Header{}
	for _, f := range []*hugs.Frame{
		hugs.NewWatchdog(h, 0),
		hugs.NewEnable(h),
		hugs.NewSpeed(h, speed),
	} {
		data, err := enc.Encode(f)
		if err != nil {
			glog.Errorf("encode %s: %v", hugs.FormatCommand(f.Command()), err)
			continue
		}
		s.ctrl.Receive(data)
	}
}

// formatState renders one status line
func formatState(st wheel.State, plant *sim.Wheel) string {
	return fmt.Sprintf("%-19s %-4s set=%5d speed=%5d mm/s pos=%7d mm pwm=%5d bat=%5.2f V cur=%5.2f A [%s] wheel=%6.0f mm/s",
		st.Mode, st.SpeedMode, st.Setpoint, st.Speed, st.Position, st.PWM,
		float64(st.BatteryMV)/1000, float64(st.CurrentMA)/1000,
		hugs.FormatStatus(st.StatusBits()), plant.Speed())
}

func runSimulate(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if simWriteConfig != "" {
		if err := cfg.Save(simWriteConfig); err != nil {
			return err
		}
		fmt.Printf("Configuration written to %s\n", simWriteConfig)
		return nil
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	s, err := newSimulation(cfg)
	if err != nil {
		return err
	}
	defer func() {
		if cerr := s.Close(); cerr != nil {
			glog.Warningf("shutdown: %v", cerr)
		}
	}()

	node := telemetry.NodeID()
	if err := s.openTelemetry(ctx, cfg, node); err != nil {
		return err
	}
	if err := s.openLink(cfg); err != nil {
		return err
	}
	if s.link == nil && simSpeed == 0 {
		return errors.New("one of --port, --listen or --speed is required")
	}

	var opts []wheel.RuntimeOption
	opts = append(opts, wheel.WithPlant(s.plant))

	var frameLog *hugs.FrameLogWriter
	if simFrameLogPath != "" {
		f, err := os.OpenFile(simFrameLogPath, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return fmt.Errorf("failed to open frame log: %w", err)
		}
		s.closers = append(s.closers, f)
		frameLog = hugs.NewFrameLogWriter(f)
		opts = append(opts, wheel.WithFrameHook(func(fr *hugs.Frame) {
			if err := frameLog.WriteFrame(hugs.DirectionRx, fr); err != nil {
				glog.Warningf("frame log: %v", err)
			}
		}))
	}

	interval := time.Duration(cfg.Telemetry.IntervalMS) * time.Millisecond
	if s.pipeline != nil {
		go s.pipeline.Run(ctx)
		opts = append(opts, wheel.WithStateHook(interval, s.pipeline.Hook))
	}

	var link io.ReadWriter
	if s.link != nil {
		link = s.link
	}
	rt := wheel.NewRuntime(s.ctrl, link, opts...)

	fmt.Printf("Hubdrive - Simulated Wheel\n")
	fmt.Printf("Node: %s\n", node)
	if s.link != nil {
		fmt.Printf("Link: %s\n", s.linkInfo)
	} else {
		fmt.Printf("Link: none, driving at %d mm/s\n", simSpeed)
	}
	fmt.Printf("Profile: %s  Speed mode: %s  Watchdog: %d ms\n",
		cfg.Motor.Profile, cfg.Motor.SpeedMode, cfg.Link.WatchdogMS)
	fmt.Printf("Press Ctrl+C to exit\n\n")

	if s.bridge != nil {
		go func() {
			if err := serveBridge(ctx, simListen, simPath, s.bridge); err != nil {
				glog.Errorf("WebSocket server: %v", err)
				stop()
			}
		}()
	}
	if s.link == nil {
		// Calibration holds the output for the first thousand cycles
		rt.RunTicks(50)
		s.driveLocally(simSpeed)
	}
	if simStatus > 0 {
		go func() {
			ticker := time.NewTicker(simStatus)
			defer ticker.Stop()
			for {
				select {
				case <-ctx.Done():
					return
				case <-ticker.C:
					fmt.Println(formatState(s.ctrl.State(), s.plant))
				}
			}
		}()
	}

	err = rt.Run(ctx)

	c := s.ctrl.Counters()
	fmt.Printf("\n--- Wheel statistics ---\n")
	fmt.Printf("Frames: %d  Decode errors: %d  Resyncs: %d  Replies: %d (dropped %d)\n",
		c.Frames, c.DecodeErrors, s.ctrl.Resyncs(), c.Replies, c.DroppedReplies)
	fmt.Printf("Watchdog trips: %d  Rejected values: %d\n", c.WatchdogTrips, c.RejectedValues)
	if s.pipeline != nil {
		published, dropped, failed := s.pipeline.Stats()
		fmt.Printf("Telemetry: %d published, %d dropped, %d failed\n", published, dropped, failed)
	}

	if errors.Is(err, context.Canceled) {
		return nil
	}
	return err
}
