// SPDX-License-Identifier: Apache-2.0
// Copyright (c) 2025 Kaz Walker, Thermoquad

package telemetry

import (
	"context"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang/glog"
	"go.uber.org/multierr"

	"github.com/Thermoquad/hubdrive/pkg/wheel"
)

// Publisher sends snapshots somewhere
type Publisher interface {
	Publish(ctx context.Context, s Snapshot) error
	Close() error
}

// Multi publishes to every publisher and collects their errors
type Multi []Publisher

// Publish implements Publisher
func (m Multi) Publish(ctx context.Context, s Snapshot) error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Publish(ctx, s))
	}
	return err
}

// Close implements Publisher
func (m Multi) Close() error {
	var err error
	for _, p := range m {
		err = multierr.Append(err, p.Close())
	}
	return err
}

// DefaultQueue is the number of snapshots a Pipeline buffers
const DefaultQueue = 32

// Pipeline turns wheel states into snapshots for a publisher.
//
// Hook is called from the runtime loop and never blocks: when the queue is
// full the sample is dropped and counted.
type Pipeline struct {
	node    string
	pub     Publisher
	timeout time.Duration
	queue   chan Snapshot

	mu  sync.Mutex
	seq uint64

	published atomic.Uint64
	dropped   atomic.Uint64
	failed    atomic.Uint64
}

// NewPipeline creates a pipeline publishing to pub as node
func NewPipeline(node string, pub Publisher) *Pipeline {
	return &Pipeline{
		node:    node,
		pub:     pub,
		timeout: 2 * time.Second,
		queue:   make(chan Snapshot, DefaultQueue),
	}
}

// Hook queues a snapshot of s. Its signature fits wheel.WithStateHook.
func (p *Pipeline) Hook(s wheel.State) {
	p.mu.Lock()
	p.seq++
	snap := NewSnapshot(p.node, p.seq, time.Now(), s)
	p.mu.Unlock()

	select {
	case p.queue <- snap:
	default:
		p.dropped.Add(1)
	}
}

// Run publishes queued snapshots until ctx is cancelled. Publish errors
// are logged and counted; they do not stop the pipeline.
func (p *Pipeline) Run(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case snap := <-p.queue:
			p.publish(ctx, snap)
		}
	}
}

func (p *Pipeline) publish(ctx context.Context, snap Snapshot) {
	ctx, cancel := context.WithTimeout(ctx, p.timeout)
	defer cancel()

	if err := p.pub.Publish(ctx, snap); err != nil {
		if p.failed.Add(1) == 1 || glog.V(1) {
			glog.Warningf("telemetry publish failed: %v", err)
		}
		return
	}
	p.published.Add(1)
	if glog.V(2) {
		glog.Infof("telemetry %s", snap)
	}
}

// Stats returns the published, dropped and failed snapshot counts
func (p *Pipeline) Stats() (published, dropped, failed uint64) {
	return p.published.Load(), p.dropped.Load(), p.failed.Load()
}
