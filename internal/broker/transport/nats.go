// Package transport wraps an embedded NATS server as the wire substrate
// under the broker's session state machine. Framing on top of it is an
// out-of-scope collaborator; only the embedded server lifecycle lives
// here.
package transport

import (
	"fmt"
	"sync"
	"time"

	natsserver "github.com/nats-io/nats-server/v2/server"
	"github.com/nats-io/nats.go"
)

// Config configures the embedded NATS instance.
type Config struct {
	Port      int
	JetStream bool
	DataDir   string
}

// Embedded wraps an in-process NATS server plus a client connection used
// by internal/broker to publish/subscribe without a network hop.
type Embedded struct {
	mu      sync.RWMutex
	server  *natsserver.Server
	conn    *nats.Conn
	config  Config
	running bool
}

func New(cfg Config) (*Embedded, error) {
	if cfg.Port <= 0 {
		cfg.Port = 4222
	}
	if cfg.JetStream && cfg.DataDir == "" {
		return nil, fmt.Errorf("jetstream enabled without a data dir")
	}
	return &Embedded{config: cfg}, nil
}

func (e *Embedded) Start() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.running {
		return fmt.Errorf("nats transport already running")
	}

	opts := &natsserver.Options{
		Host:       "127.0.0.1",
		Port:       e.config.Port,
		NoSigs:     true,
		MaxPayload: 1024 * 1024,
	}
	if e.config.JetStream {
		opts.JetStream = true
		opts.StoreDir = e.config.DataDir
	}

	ns, err := natsserver.NewServer(opts)
	if err != nil {
		return fmt.Errorf("failed to create embedded nats server: %w", err)
	}
	go ns.Start()
	if !ns.ReadyForConnections(10 * time.Second) {
		return fmt.Errorf("embedded nats server not ready for connections")
	}

	conn, err := nats.Connect(ns.ClientURL())
	if err != nil {
		ns.Shutdown()
		return fmt.Errorf("failed to connect in-process nats client: %w", err)
	}

	e.server = ns
	e.conn = conn
	e.running = true
	return nil
}

func (e *Embedded) Shutdown() {
	e.mu.Lock()
	defer e.mu.Unlock()
	if !e.running {
		return
	}
	if e.conn != nil {
		e.conn.Close()
	}
	e.server.Shutdown()
	e.server.WaitForShutdown()
	e.running = false
	e.server = nil
	e.conn = nil
}

func (e *Embedded) Conn() *nats.Conn {
	e.mu.RLock()
	defer e.mu.RUnlock()
	return e.conn
}

func (e *Embedded) URL() string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	if e.server == nil {
		return ""
	}
	return e.server.ClientURL()
}
