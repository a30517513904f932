package broadcast

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/coder/websocket"
)

// Socket transport tuning.
const (
	dialTimeout  = 2 * time.Second
	writeTimeout = 5 * time.Second

	reconnectInitBackoff = 250 * time.Millisecond
	reconnectMaxBackoff  = 10 * time.Second

	hubShutdownTimeout = 2 * time.Second
)

// hubInfo is the descriptor the current hub writes next to the data dir so
// later processes can find it. The pid lets a successor spot a dead hub
// without waiting out a dial timeout.
type hubInfo struct {
	Port int `json:"port"`
	PID  int `json:"pid"`
}

// SocketTransport delivers frames over a loopback WebSocket hub. The first
// process in a data dir binds 127.0.0.1:0 and relays frames between all
// later processes, which dial it. When the hub process exits, a surviving
// peer takes the hub role over. Frames in flight during a failover are
// lost, which the broadcast contract permits.
type SocketTransport struct {
	hubPath  string
	senderID string
	logger   *slog.Logger

	incoming chan []byte

	mu   sync.Mutex
	hub  *socketHub      // non-nil while this process is the hub
	conn *websocket.Conn // non-nil while this process is a client

	stop      chan struct{}
	wg        sync.WaitGroup
	closeOnce sync.Once
}

// NewSocketTransport joins (or founds) the loopback hub recorded at
// hubPath and starts the connection-maintenance goroutine.
func NewSocketTransport(hubPath, senderID string, logger *slog.Logger) (*SocketTransport, error) {
	t := &SocketTransport{
		hubPath:  hubPath,
		senderID: senderID,
		logger:   logger,
		incoming: make(chan []byte, receiveBuffer),
		stop:     make(chan struct{}),
	}

	// First attachment is synchronous so construction fails loudly when
	// loopback networking is unavailable, instead of silently dropping
	// every message from a background loop.
	if err := t.attach(); err != nil {
		return nil, err
	}

	t.wg.Add(1)
	go t.maintainLoop()

	return t, nil
}

// Send delivers one frame to every other participant.
func (t *SocketTransport) Send(ctx context.Context, data []byte) error {
	t.mu.Lock()
	hub := t.hub
	conn := t.conn
	t.mu.Unlock()

	if hub != nil {
		hub.relay(nil, data)
		return nil
	}

	if conn == nil {
		return fmt.Errorf("broadcast: socket transport not connected")
	}

	ctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
		return fmt.Errorf("broadcast: sending frame to hub: %w", err)
	}

	return nil
}

// Receive yields frames sent by other participants.
func (t *SocketTransport) Receive() <-chan []byte {
	return t.incoming
}

// Close detaches from the hub (or shuts the hub down if this process holds
// the role; surviving peers elect a successor on reconnect).
func (t *SocketTransport) Close() error {
	t.closeOnce.Do(func() {
		close(t.stop)
		t.detach()
		t.wg.Wait()
		close(t.incoming)
	})

	return nil
}

// attach connects this process to the hub: dial the recorded one, or take
// the role over when there is none alive.
func (t *SocketTransport) attach() error {
	if conn, ok := t.dialRecordedHub(); ok {
		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()

		t.wg.Add(1)
		go t.clientReadLoop(conn)

		t.logger.Debug("joined broadcast hub as client")

		return nil
	}

	hub, err := newSocketHub(t.hubPath, t.incoming, t.logger)
	if err != nil {
		return err
	}

	// Two processes can race to found the hub; the descriptor rename is
	// atomic, so the loser demotes itself and dials the winner.
	if winner, ok := t.readHubInfo(); ok && winner.Port != hub.port {
		hub.shutdown()

		conn, dialOK := t.dialRecordedHub()
		if !dialOK {
			return fmt.Errorf("broadcast: lost hub election but cannot reach winner on port %d", winner.Port)
		}

		t.mu.Lock()
		t.conn = conn
		t.mu.Unlock()

		t.wg.Add(1)
		go t.clientReadLoop(conn)

		return nil
	}

	t.mu.Lock()
	t.hub = hub
	t.mu.Unlock()

	t.logger.Info("founded broadcast hub", slog.Int("port", hub.port))

	return nil
}

// detach tears down whichever role this process holds.
func (t *SocketTransport) detach() {
	t.mu.Lock()
	hub := t.hub
	conn := t.conn
	t.hub = nil
	t.conn = nil
	t.mu.Unlock()

	if hub != nil {
		hub.shutdown()
		// Remove the descriptor so successors do not waste a dial on a
		// dead hub. Best-effort; a stale file is handled by dial failure.
		_ = os.Remove(t.hubPath)
	}

	if conn != nil {
		_ = conn.Close(websocket.StatusNormalClosure, "")
	}
}

// maintainLoop restores connectivity after the hub dies: reattach with
// capped backoff until Close.
func (t *SocketTransport) maintainLoop() {
	defer t.wg.Done()

	backoff := reconnectInitBackoff

	for {
		select {
		case <-t.stop:
			return
		default:
		}

		t.mu.Lock()
		attached := t.hub != nil || t.conn != nil
		t.mu.Unlock()

		if attached {
			backoff = reconnectInitBackoff

			select {
			case <-t.stop:
				return
			case <-time.After(reconnectInitBackoff):
			}

			continue
		}

		if err := t.attach(); err != nil {
			t.logger.Warn("broadcast hub reattach failed",
				slog.String("error", err.Error()),
				slog.Duration("backoff", backoff),
			)

			select {
			case <-t.stop:
				return
			case <-time.After(backoff):
			}

			backoff *= 2
			if backoff > reconnectMaxBackoff {
				backoff = reconnectMaxBackoff
			}
		}
	}
}

// clientReadLoop pumps frames from the hub into incoming until the
// connection dies, then clears the client role so maintainLoop reattaches.
func (t *SocketTransport) clientReadLoop(conn *websocket.Conn) {
	defer t.wg.Done()

	ctx := context.Background()

	for {
		_, data, err := conn.Read(ctx)
		if err != nil {
			t.mu.Lock()
			if t.conn == conn {
				t.conn = nil
			}
			t.mu.Unlock()

			select {
			case <-t.stop:
			default:
				t.logger.Debug("broadcast hub connection lost", slog.String("error", err.Error()))
			}

			return
		}

		select {
		case t.incoming <- data:
		case <-t.stop:
			return
		default:
			t.logger.Warn("socket receive buffer full, dropping message")
		}
	}
}

// dialRecordedHub dials the hub named in the descriptor file. Returns
// false when there is no descriptor, the hub process is dead, or the dial
// fails.
func (t *SocketTransport) dialRecordedHub() (*websocket.Conn, bool) {
	info, ok := t.readHubInfo()
	if !ok {
		return nil, false
	}

	if !processAlive(info.PID) {
		return nil, false
	}

	ctx, cancel := context.WithTimeout(context.Background(), dialTimeout)
	defer cancel()

	url := fmt.Sprintf("ws://127.0.0.1:%d/broadcast", info.Port)

	conn, _, err := websocket.Dial(ctx, url, nil)
	if err != nil {
		t.logger.Debug("dialing broadcast hub failed", slog.String("error", err.Error()))
		return nil, false
	}

	return conn, true
}

// readHubInfo loads the hub descriptor. A malformed file reads as absent.
func (t *SocketTransport) readHubInfo() (hubInfo, bool) {
	data, err := os.ReadFile(t.hubPath)
	if err != nil {
		return hubInfo{}, false
	}

	var info hubInfo
	if err := json.Unmarshal(data, &info); err != nil || info.Port == 0 {
		return hubInfo{}, false
	}

	return info, true
}

// processAlive reports whether a pid exists (signal 0 probe).
func processAlive(pid int) bool {
	if pid <= 0 {
		return false
	}

	proc, err := os.FindProcess(pid)
	if err != nil {
		return false
	}

	return proc.Signal(syscall.Signal(0)) == nil
}

// socketHub is the relay run by whichever process holds the hub role. It
// forwards every frame to all connections except its origin, and feeds its
// own process through the owner channel.
type socketHub struct {
	port   int
	server *http.Server
	owner  chan<- []byte
	logger *slog.Logger

	mu    sync.Mutex
	conns map[*websocket.Conn]bool

	wg sync.WaitGroup
}

// newSocketHub binds an ephemeral loopback port, records the descriptor,
// and starts serving.
func newSocketHub(hubPath string, owner chan<- []byte, logger *slog.Logger) (*socketHub, error) {
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return nil, fmt.Errorf("broadcast: binding hub listener: %w", err)
	}

	h := &socketHub{
		port:   listener.Addr().(*net.TCPAddr).Port,
		owner:  owner,
		logger: logger,
		conns:  make(map[*websocket.Conn]bool),
	}

	mux := http.NewServeMux()
	mux.HandleFunc("/broadcast", h.handleConn)

	h.server = &http.Server{Handler: mux}

	if err := writeHubInfo(hubPath, hubInfo{Port: h.port, PID: os.Getpid()}); err != nil {
		listener.Close()
		return nil, err
	}

	h.wg.Add(1)

	go func() {
		defer h.wg.Done()

		if serveErr := h.server.Serve(listener); serveErr != nil && serveErr != http.ErrServerClosed {
			logger.Warn("broadcast hub server stopped", slog.String("error", serveErr.Error()))
		}
	}()

	return h, nil
}

// handleConn upgrades one peer connection and pumps its frames through the
// relay until it disconnects.
func (h *socketHub) handleConn(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, nil)
	if err != nil {
		h.logger.Debug("broadcast hub accept failed", slog.String("error", err.Error()))
		return
	}

	h.mu.Lock()
	h.conns[conn] = true
	h.mu.Unlock()

	defer func() {
		h.mu.Lock()
		delete(h.conns, conn)
		h.mu.Unlock()

		_ = conn.Close(websocket.StatusNormalClosure, "")
	}()

	ctx := r.Context()

	for {
		_, data, readErr := conn.Read(ctx)
		if readErr != nil {
			return
		}

		h.relay(conn, data)
	}
}

// relay forwards a frame to every connection except its origin and, when
// the origin is a peer, to the hub process itself. A nil origin means the
// hub's own process sent the frame.
func (h *socketHub) relay(origin *websocket.Conn, data []byte) {
	h.mu.Lock()
	conns := make([]*websocket.Conn, 0, len(h.conns))
	for conn := range h.conns {
		if conn != origin {
			conns = append(conns, conn)
		}
	}
	h.mu.Unlock()

	for _, conn := range conns {
		ctx, cancel := context.WithTimeout(context.Background(), writeTimeout)
		err := conn.Write(ctx, websocket.MessageText, data)
		cancel()

		if err != nil {
			h.logger.Debug("broadcast relay write failed", slog.String("error", err.Error()))
		}
	}

	if origin != nil {
		select {
		case h.owner <- data:
		default:
			h.logger.Warn("socket receive buffer full, dropping message")
		}
	}
}

// shutdown closes all peer connections and stops the server.
func (h *socketHub) shutdown() {
	h.mu.Lock()
	for conn := range h.conns {
		_ = conn.Close(websocket.StatusGoingAway, "hub shutting down")
	}
	h.conns = make(map[*websocket.Conn]bool)
	h.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), hubShutdownTimeout)
	defer cancel()

	_ = h.server.Shutdown(ctx)
	h.wg.Wait()
}

// writeHubInfo records the hub descriptor atomically (temp + rename).
func writeHubInfo(path string, info hubInfo) error {
	data, err := json.Marshal(info)
	if err != nil {
		return fmt.Errorf("broadcast: encoding hub descriptor: %w", err)
	}

	dir := filepath.Dir(path)

	tmp, err := os.CreateTemp(dir, ".hub-*.tmp")
	if err != nil {
		return fmt.Errorf("broadcast: creating hub descriptor temp file: %w", err)
	}

	tmpName := tmp.Name()

	if _, err := tmp.Write(data); err != nil {
		tmp.Close()
		os.Remove(tmpName)

		return fmt.Errorf("broadcast: writing hub descriptor: %w", err)
	}

	if err := tmp.Close(); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("broadcast: closing hub descriptor: %w", err)
	}

	if err := os.Rename(tmpName, path); err != nil {
		os.Remove(tmpName)
		return fmt.Errorf("broadcast: publishing hub descriptor: %w", err)
	}

	return nil
}
