// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"fmt"
	"sync"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/golang/glog"
	"github.com/spf13/cobra"

	"github.com/Thermoquad/hubdrive/pkg/hugs"
)

var controlPoll time.Duration

var controlCmd = &cobra.Command{
	Use:   "control",
	Short: "Interactive TUI for driving a wheel",
	Long: `Drive one wheel controller via an interactive terminal UI.

This command provides a TUI for monitoring and controlling a wheel connected
via WebSocket (for example a simulate --listen bridge) or UART.

Features:
  - Enable / disable and emergency stop
  - Closed loop speed or open loop power setpoints
  - Speed mode selection (PF, STEP, DUAL)
  - Live telemetry polled with NOP frames, which also feed the watchdog
  - Link statistics and an event log
  - Automatic reconnection on connection loss

Keys:
  e enable    d disable   x estop      o reset odometry
  m cycle speed mode      p toggle speed/power input
  enter send setpoint     up/down step setpoint by 100
  q quit

Supports both serial and WebSocket connections.`,
	RunE: runControl,
}

func init() {
	rootCmd.AddCommand(controlCmd)
	controlCmd.Flags().DurationVar(&controlPoll, "poll", 100*time.Millisecond, "Telemetry poll interval")
}

// connectionManager handles connection lifecycle and reconnection
type connectionManager struct {
	conn     Connection
	connInfo string
	mu       sync.RWMutex
	p        *tea.Program
	done     chan struct{}

	writeMu sync.Mutex
	seq     uint8
}

func (cm *connectionManager) getConn() Connection {
	cm.mu.RLock()
	defer cm.mu.RUnlock()
	return cm.conn
}

func (cm *connectionManager) setConn(conn Connection, connInfo string) {
	cm.mu.Lock()
	defer cm.mu.Unlock()
	cm.conn = conn
	cm.connInfo = connInfo
}

// header returns the next addressing header for a frame to dest wanting rsp
func (cm *connectionManager) header(dest, rsp uint8) hugs.Header {
	cm.writeMu.Lock()
	defer cm.writeMu.Unlock()
	cm.seq = (cm.seq + 1) & hugs.MaxNibble
	return hugs.Header{Sequence: cm.seq, Destination: dest, Response: rsp}
}

// send encodes and writes one frame
func (cm *connectionManager) send(f *hugs.Frame) error {
	data, err := hugs.NewEncoder(true).Encode(f)
	if err != nil {
		return err
	}
	conn := cm.getConn()
	if conn == nil {
		return fmt.Errorf("not connected")
	}

	cm.writeMu.Lock()
	defer cm.writeMu.Unlock()
	if _, err := conn.Write(data); err != nil {
		return fmt.Errorf("send %s: %w", hugs.FormatCommand(f.Command()), err)
	}
	if glog.V(2) {
		glog.Infof("tx %s", hugs.FormatBytes(data))
	}
	return nil
}

func runControl(cmd *cobra.Command, args []string) error {
	if _, err := loadConfig(cmd); err != nil {
		return err
	}
	if controlPoll <= 0 {
		return fmt.Errorf("--poll must be positive")
	}

	conn, connInfo, err := OpenConnection()
	if err != nil {
		return err
	}

	cm := &connectionManager{
		conn:     conn,
		connInfo: connInfo,
		done:     make(chan struct{}),
	}

	m := initialControlModel(cm, connInfo, destination)

	p := tea.NewProgram(m, tea.WithAltScreen(), tea.WithMouseCellMotion())
	cm.p = p

	go cm.readerLoop()

	final, err := p.Run()
	close(cm.done)

	// Leave the wheel stopped; the watchdog would stop it anyway
	dest := destination
	if fm, ok := final.(controlModel); ok {
		dest = fm.selected
	}
	if serr := cm.send(hugs.NewDisable(cm.header(dest, hugs.RspNOR))); serr != nil {
		glog.Warningf("disable on exit: %v", serr)
	}
	cm.getConn().Close()

	if err != nil {
		return fmt.Errorf("TUI error: %w", err)
	}
	return nil
}

// readerLoop handles reading from connection with automatic reconnection
func (cm *connectionManager) readerLoop() {
	for {
		select {
		case <-cm.done:
			return
		default:
		}

		if cm.readFromConnection() {
			cm.p.Send(connectionLostMsg{})
			if !cm.reconnect() {
				return
			}
		}
	}
}

// readFromConnection reads frames until the connection fails.
// Returns true if the connection was lost, false if shutdown was requested.
func (cm *connectionManager) readFromConnection() bool {
	batchChan := make(chan controlDataMsg, 100)
	syncChan := make(chan controlSyncMsg, 1)
	readerDone := make(chan struct{})

	go func() {
		defer close(readerDone)
		decodeStream(cm.getConn(),
			func(skipped int) {
				select {
				case syncChan <- controlSyncMsg{invalidFrames: skipped}:
				default:
				}
			},
			func(ev frameEvent) {
				select {
				case batchChan <- controlDataMsg(ev):
				default:
				}
			},
		)
	}()

	// Batch sender goroutine - sends batched updates to TUI at fixed rate
	go func() {
		ticker := time.NewTicker(50 * time.Millisecond)
		defer ticker.Stop()

		for {
			select {
			case <-cm.done:
				return
			case <-readerDone:
				return
			case <-ticker.C:
				var batch controlBatchMsg

				select {
				case sm := <-syncChan:
					batch.syncMsg = &sm
				default:
				}

			drainLoop:
				for {
					select {
					case msg := <-batchChan:
						batch.messages = append(batch.messages, msg)
					default:
						break drainLoop
					}
				}

				if batch.syncMsg != nil || len(batch.messages) > 0 {
					cm.p.Send(batch)
				}
			}
		}
	}()

	<-readerDone

	select {
	case <-cm.done:
		return false
	default:
		return true
	}
}

// reconnect attempts to reconnect with exponential backoff.
// Returns false if shutdown was requested during reconnection.
func (cm *connectionManager) reconnect() bool {
	if conn := cm.getConn(); conn != nil {
		conn.Close()
	}

	backoff := 1 * time.Second
	maxBackoff := 30 * time.Second

	for {
		select {
		case <-cm.done:
			return false
		case <-time.After(backoff):
		}

		conn, connInfo, err := OpenConnection()
		if err == nil {
			cm.setConn(conn, connInfo)
			cm.p.Send(reconnectedMsg{connInfo: connInfo})
			return true
		}
		glog.V(1).Infof("reconnect failed: %v", err)

		backoff *= 2
		if backoff > maxBackoff {
			backoff = maxBackoff
		}
	}
}
