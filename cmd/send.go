// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/Thermoquad/hubdrive/pkg/hugs"
)

var (
	sendResponse string
	sendSequence uint8
	sendTimeout  time.Duration
)

var sendCmd = &cobra.Command{
	Use:   "send <command> [values...]",
	Short: "Send one command frame and print the reply",
	Long: `Build a single HUGS command, send it, and wait for the requested reply.

Commands:
  nop                   keep alive (use with --rsp to poll)
  res                   reset odometry
  ena | dis             enable or disable the output stage
  pow <power>           open loop power, -1000..1000
  spe <mm/s>            closed loop speed, -5000..5000
  dog <ms>              watchdog interval, 0 disables
  mod <pf|step|dual> <mm/s>
                        speed mode and stepper threshold
  dspe <speed> <turn>   dual speed (ignored by single wheels)
  estop                 latch the emergency stop

Replies (--rsp): nor smot spow sspe spos svol samp sdog smod sfpi

Example:
  hubdrive send spe 500 --rsp smot -p /dev/ttyUSB0`,
	Args: cobra.MinimumNArgs(1),
	RunE: runSend,
}

func init() {
	rootCmd.AddCommand(sendCmd)
	sendCmd.Flags().StringVarP(&sendResponse, "rsp", "r", "smot", "Reply to request (nor for none)")
	sendCmd.Flags().Uint8Var(&sendSequence, "seq", 0, "Sequence number (0-15)")
	sendCmd.Flags().DurationVar(&sendTimeout, "timeout", 2*time.Second, "Time to wait for the reply")
}

// responseIDs maps lowercase reply names to response IDs
var responseIDs = map[string]uint8{
	"nor":  hugs.RspNOR,
	"smot": hugs.RspSMOT,
	"spow": hugs.RspSPOW,
	"sspe": hugs.RspSSPE,
	"spos": hugs.RspSPOS,
	"svol": hugs.RspSVOL,
	"samp": hugs.RspSAMP,
	"sdog": hugs.RspSDOG,
	"smod": hugs.RspSMOD,
	"sfpi": hugs.RspSFPI,
}

// parseResponse parses a reply name or a numeric response ID
func parseResponse(s string) (uint8, error) {
	if id, ok := responseIDs[strings.ToLower(s)]; ok {
		return id, nil
	}
	n, err := strconv.ParseUint(s, 0, 8)
	if err != nil {
		return 0, fmt.Errorf("unknown reply %q", s)
	}
	return uint8(n), nil
}

// parseSpeedModeArg parses a speed mode name or number
func parseSpeedModeArg(s string) (uint8, error) {
	switch strings.ToLower(s) {
	case "pf", "0":
		return 0, nil
	case "step", "1":
		return 1, nil
	case "dual", "2":
		return 2, nil
	}
	return 0, fmt.Errorf("unknown speed mode %q (pf, step or dual)", s)
}

func parseInt16Arg(s string, limit int) (int16, error) {
	v, err := strconv.ParseInt(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	if v > int64(limit) || v < -int64(limit) {
		return 0, fmt.Errorf("value %d out of range (-%d to %d)", v, limit, limit)
	}
	return int16(v), nil
}

func parseUint16Arg(s string) (uint16, error) {
	v, err := strconv.ParseUint(s, 10, 16)
	if err != nil {
		return 0, fmt.Errorf("invalid value %q: %w", s, err)
	}
	return uint16(v), nil
}

// buildCommand builds a frame from a command name and its arguments
func buildCommand(h hugs.Header, name string, args []string) (*hugs.Frame, error) {
	want := map[string]int{
		"nop": 0, "res": 0, "ena": 0, "dis": 0, "estop": 0,
		"pow": 1, "spe": 1, "dog": 1, "mod": 2, "dspe": 2,
	}
	name = strings.ToLower(name)
	n, ok := want[name]
	if !ok {
		return nil, fmt.Errorf("unknown command %q", name)
	}
	if len(args) != n {
		return nil, fmt.Errorf("%s takes %d value(s), got %d", name, n, len(args))
	}

	switch name {
	case "nop":
		return hugs.NewNOP(h), nil
	case "res":
		return hugs.NewResetOdometry(h), nil
	case "ena":
		return hugs.NewEnable(h), nil
	case "dis":
		return hugs.NewDisable(h), nil
	case "estop":
		return hugs.NewEstop(h), nil
	case "pow":
		power, err := parseInt16Arg(args[0], hugs.MaxPower)
		if err != nil {
			return nil, err
		}
		return hugs.NewPower(h, power), nil
	case "spe":
		speed, err := parseInt16Arg(args[0], hugs.MaxSpeed)
		if err != nil {
			return nil, err
		}
		return hugs.NewSpeed(h, speed), nil
	case "dog":
		ms, err := parseUint16Arg(args[0])
		if err != nil {
			return nil, err
		}
		return hugs.NewWatchdog(h, ms), nil
	case "mod":
		mode, err := parseSpeedModeArg(args[0])
		if err != nil {
			return nil, err
		}
		threshold, err := parseUint16Arg(args[1])
		if err != nil {
			return nil, err
		}
		return hugs.NewSpeedMode(h, mode, threshold), nil
	default: // dspe
		speed, err := parseInt16Arg(args[0], hugs.MaxSpeed)
		if err != nil {
			return nil, err
		}
		turn, err := parseInt16Arg(args[1], hugs.MaxSpeed)
		if err != nil {
			return nil, err
		}
		return hugs.NewDualSpeed(h, speed, turn), nil
	}
}

// formatReply prints the decoded fields of a reply
func formatReply(r hugs.Reply) string {
	switch r.Response {
	case hugs.RspSMOT:
		return fmt.Sprintf("speed=%d mm/s position=%d mm pwm=%d status=%s",
			r.Speed, r.Position, r.PWM, hugs.FormatStatus(r.Status))
	case hugs.RspSPOW:
		return fmt.Sprintf("pwm=%d", r.PWM)
	case hugs.RspSSPE:
		return fmt.Sprintf("speed=%d mm/s", r.Speed)
	case hugs.RspSPOS:
		return fmt.Sprintf("position=%d mm", r.Position)
	case hugs.RspSVOL:
		return fmt.Sprintf("battery=%d mV", r.BatteryMV)
	case hugs.RspSAMP:
		return fmt.Sprintf("current=%d mA", r.CurrentMA)
	case hugs.RspSDOG:
		return fmt.Sprintf("watchdog=%d ms", r.WatchdogMS)
	case hugs.RspSMOD:
		return fmt.Sprintf("mode=%s threshold=%d mm/s", hugs.FormatSpeedMode(r.SpeedMode), r.StepperThreshold)
	case hugs.RspSFPI:
		return fmt.Sprintf("feedforward=%d proportional=%d integral=%d", r.FeedForward, r.Proportional, r.Integral)
	case hugs.RspSTOP:
		return "emergency stop latched"
	}
	return "no payload"
}

func runSend(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return err
	}
	rsp, err := parseResponse(sendResponse)
	if err != nil {
		return err
	}
	if sendSequence > hugs.MaxNibble {
		return fmt.Errorf("sequence %d out of range (0-15)", sendSequence)
	}

	h := hugs.Header{Sequence: sendSequence, Destination: destination, Response: rsp}
	frame, err := buildCommand(h, args[0], args[1:])
	if err != nil {
		return err
	}
	wire, err := hugs.NewEncoder(true).Encode(frame)
	if err != nil {
		return err
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}
	defer conn.Close()

	fmt.Printf("Connection: %s\n", connInfo)
	fmt.Printf("TX %s\n", hugs.FormatBytes(wire))
	fmt.Print(hugs.FormatFrame(frame))

	replies := newReplyStream(conn)
	if _, err := conn.Write(wire); err != nil {
		return fmt.Errorf("failed to send frame: %w", err)
	}
	if rsp == hugs.RspNOR {
		return nil
	}

	reply, err := replies.await(sendTimeout)
	if err != nil {
		return err
	}

	fmt.Print(hugs.FormatFrame(reply))
	parsed, err := hugs.ParseReply(reply)
	if err != nil {
		return err
	}
	fmt.Printf("Reply: %s\n", formatReply(parsed))
	if reply.Response() == hugs.RspSTOP {
		fmt.Printf("The wheel ignores POW and SPE until it receives ENA\n")
	}
	return nil
}

// replyStream decodes the wheel's replies on its own goroutine
type replyStream struct {
	frames chan *hugs.Frame
	errs   chan error
}

func newReplyStream(conn Connection) *replyStream {
	s := &replyStream{
		frames: make(chan *hugs.Frame, 16),
		errs:   make(chan error, 1),
	}
	go func() {
		decoder := hugs.NewDecoder()
		buf := make([]byte, 64)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				s.errs <- err
				return
			}
			for i := 0; i < n; i++ {
				f, _ := decoder.DecodeByte(buf[i])
				if f != nil && f.IsReply() {
					select {
					case s.frames <- f:
					default:
					}
				}
			}
		}
	}()
	return s
}

// await returns the next reply or fails after timeout
func (s *replyStream) await(timeout time.Duration) (*hugs.Frame, error) {
	select {
	case f := <-s.frames:
		return f, nil
	case err := <-s.errs:
		return nil, fmt.Errorf("read failed while waiting for the reply: %w", err)
	case <-time.After(timeout):
		return nil, fmt.Errorf("no reply within %s", timeout)
	}
}

// drain discards replies that arrived late
func (s *replyStream) drain() {
	for {
		select {
		case <-s.frames:
		default:
			return
		}
	}
}
