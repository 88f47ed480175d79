// SPDX-License-Identifier: GPL-2.0-or-later
// Copyright (c) 2025 Kaz Walker, Thermoquad

package cmd

import (
	"context"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/golang/glog"
	"github.com/gorilla/websocket"
)

// wsBridge exposes a wheel link to WebSocket clients.
//
// Every binary message from any client is fed to the wheel as if it came
// off the shared serial bus, and every reply is sent to all clients. The
// bridge itself is the io.ReadWriter the wheel runtime reads and writes.
type wsBridge struct {
	upgrader websocket.Upgrader

	in      chan []byte
	pending []byte
	done    chan struct{}
	once    sync.Once

	clientsMu sync.RWMutex
	clients   map[*wsClient]struct{}
}

type wsClient struct {
	conn *websocket.Conn
	send chan []byte
}

func newWSBridge() *wsBridge {
	return &wsBridge{
		upgrader: websocket.Upgrader{
			CheckOrigin: func(r *http.Request) bool { return true },
		},
		in:      make(chan []byte, 64),
		done:    make(chan struct{}),
		clients: make(map[*wsClient]struct{}),
	}
}

// Read returns bytes received from clients. It blocks until a client sends
// something and returns io.EOF once the bridge is closed.
func (b *wsBridge) Read(p []byte) (int, error) {
	if len(b.pending) == 0 {
		select {
		case data := <-b.in:
			b.pending = data
		case <-b.done:
			return 0, io.EOF
		}
	}
	n := copy(p, b.pending)
	b.pending = b.pending[n:]
	return n, nil
}

// Write sends bytes to every connected client. Slow clients miss data.
func (b *wsBridge) Write(p []byte) (int, error) {
	data := append([]byte(nil), p...)

	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()

	for client := range b.clients {
		select {
		case client.send <- data:
		default:
		}
	}
	return len(p), nil
}

// Clients returns the number of connected clients
func (b *wsBridge) Clients() int {
	b.clientsMu.RLock()
	defer b.clientsMu.RUnlock()
	return len(b.clients)
}

// Close disconnects every client and releases Read
func (b *wsBridge) Close() error {
	b.once.Do(func() {
		close(b.done)
		b.clientsMu.RLock()
		for client := range b.clients {
			client.conn.Close()
		}
		b.clientsMu.RUnlock()
	})
	return nil
}

func (b *wsBridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := b.upgrader.Upgrade(w, r, nil)
	if err != nil {
		glog.Warningf("[ws] upgrade error: %v", err)
		return
	}

	client := &wsClient{
		conn: conn,
		send: make(chan []byte, 64),
	}

	b.clientsMu.Lock()
	b.clients[client] = struct{}{}
	total := len(b.clients)
	b.clientsMu.Unlock()

	glog.Infof("[ws] client %s connected (%d total)", r.RemoteAddr, total)

	// Writer goroutine
	go func() {
		defer conn.Close()
		for msg := range client.send {
			if err := conn.WriteMessage(websocket.BinaryMessage, msg); err != nil {
				break
			}
		}
	}()

	// Reader goroutine
	go func() {
		defer func() {
			b.clientsMu.Lock()
			delete(b.clients, client)
			total := len(b.clients)
			close(client.send)
			b.clientsMu.Unlock()
			glog.Infof("[ws] client %s disconnected (%d total)", r.RemoteAddr, total)
		}()
		for {
			messageType, data, err := conn.ReadMessage()
			if err != nil {
				return
			}
			if messageType != websocket.BinaryMessage {
				continue
			}
			select {
			case b.in <- data:
			case <-b.done:
				return
			}
		}
	}()
}

// serveBridge serves b on addr at path until ctx is cancelled
func serveBridge(ctx context.Context, addr, path string, b *wsBridge) error {
	mux := http.NewServeMux()
	mux.Handle(path, b)

	srv := &http.Server{
		Addr:    addr,
		Handler: mux,
	}

	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutCtx)
	}()

	glog.Infof("[server] listening on %s%s", addr, path)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}
