// Package workerhost spawns an app's worker entry as a separate OS
// process and wires it to the host over the loopback WebSocketPort
// transport, the separate-process half of the Design Note's port
// simulation (the in-process variant is corebus.ChannelPort, used when
// host and worker share a process instead).
package workerhost

import (
	"context"
	"fmt"
	"net"
	"net/http"
	"os/exec"
	"sync"
	"time"

	"github.com/b0czek/eden/internal/corebus"
	"github.com/b0czek/eden/internal/coreerr"
	"github.com/b0czek/eden/internal/manifest"
	"github.com/rs/zerolog"
)

// Host spawns worker processes and accepts their loopback connections on
// a single shared listener, routing each by the app id baked into its
// connect URL.
type Host struct {
	logger   zerolog.Logger
	listener net.Listener
	server   *http.Server

	mu      sync.Mutex
	pending map[string]chan *corebus.Port // appID -> delivery channel
	procs   map[string]*exec.Cmd
}

// New starts the shared acceptor on an ephemeral loopback port.
func New(logger zerolog.Logger) (*Host, error) {
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("listening for worker connections: %w", err)
	}

	h := &Host{
		logger:   logger,
		listener: ln,
		pending:  make(map[string]chan *corebus.Port),
		procs:    make(map[string]*exec.Cmd),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/worker/", h.acceptHandler)
	h.server = &http.Server{Handler: mux}
	go h.server.Serve(ln)

	return h, nil
}

func (h *Host) acceptHandler(w http.ResponseWriter, r *http.Request) {
	appID := r.URL.Query().Get("app")
	if appID == "" {
		http.Error(w, "missing app", http.StatusBadRequest)
		return
	}

	h.mu.Lock()
	ch, ok := h.pending[appID]
	h.mu.Unlock()
	if !ok {
		http.Error(w, "unexpected worker connection", http.StatusNotFound)
		return
	}

	// The request context is cancelled when this handler returns, so the
	// long-lived port must not be bound to it.
	transport, err := corebus.AcceptWebSocketPort(context.Background(), w, r)
	if err != nil {
		return
	}
	ch <- corebus.NewPort(transport)
}

// SpawnWorker starts entry.Path as a subprocess and returns its port once
// it has dialed back, plus a channel that receives its exit code.
func (h *Host) SpawnWorker(appID string, entry manifest.WorkerEntry, mf *manifest.Manifest) (*corebus.Port, <-chan int, error) {
	connectURL := fmt.Sprintf("ws://%s/worker/?app=%s", h.listener.Addr().String(), appID)

	cmd := exec.Command(entry.Path)
	cmd.Env = append(cmd.Environ(), "EDEN_CONNECT_URL="+connectURL, "EDEN_APP_ID="+appID)

	ready := make(chan *corebus.Port, 1)
	h.mu.Lock()
	h.pending[appID] = ready
	h.mu.Unlock()

	if err := cmd.Start(); err != nil {
		h.mu.Lock()
		delete(h.pending, appID)
		h.mu.Unlock()
		return nil, nil, fmt.Errorf("starting worker for %s: %w", appID, err)
	}

	h.mu.Lock()
	h.procs[appID] = cmd
	h.mu.Unlock()

	exited := make(chan int, 1)
	go func() {
		err := cmd.Wait()
		code := 0
		if exitErr, ok := err.(*exec.ExitError); ok {
			code = exitErr.ExitCode()
		} else if err != nil {
			code = -1
		}
		exited <- code
	}()

	select {
	case port := <-ready:
		h.mu.Lock()
		delete(h.pending, appID)
		h.mu.Unlock()
		return port, exited, nil
	case <-time.After(30 * time.Second):
		h.mu.Lock()
		delete(h.pending, appID)
		h.mu.Unlock()
		_ = cmd.Process.Kill()
		return nil, nil, coreerr.PortArrivalTimeout(appID, 30000)
	}
}

// TerminateWorker kills appID's worker process if still running.
func (h *Host) TerminateWorker(appID string) error {
	h.mu.Lock()
	cmd, ok := h.procs[appID]
	delete(h.procs, appID)
	h.mu.Unlock()

	if !ok || cmd.Process == nil {
		return nil
	}
	return cmd.Process.Kill()
}

// Close stops accepting new worker connections.
func (h *Host) Close() error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	return h.server.Shutdown(ctx)
}
