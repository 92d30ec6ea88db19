// Package p2p implements the gossip protocol between instances:
// discovery with genesis-hash verification, signed message envelopes,
// duplicate suppression, and best-effort broadcast to verified peers
// over websockets.
package p2p

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"golang.org/x/time/rate"

	"github.com/mirrorlabs/mirror/core/pkg/contracts"
	"github.com/mirrorlabs/mirror/core/pkg/crypto"
	"github.com/mirrorlabs/mirror/core/pkg/trust"
)

// ErrPeerNotVerified is returned when sending to a peer that failed
// genesis verification.
var ErrPeerNotVerified = errors.New("p2p: peer not verified")

// Handler consumes one inbound message. Exactly one handler serves each
// message type.
type Handler func(msg contracts.PeerMessage)

// seenCap bounds the duplicate-suppression window.
const seenCap = 4096

// Config wires a Node.
type Config struct {
	InstanceID string
	// GenesisHash is this instance's own genesis event hash, advertised
	// during discovery.
	GenesisHash string
	// Endpoint is the address peers dial back, advertised at discovery.
	Endpoint string
	Signer   *crypto.Ed25519Signer
	Trust    *trust.Set
	// SendRate limits outbound messages per peer. Zero means 20/s.
	SendRate rate.Limit
	// QueueSize bounds the inbound queue. Zero means 256.
	QueueSize int
	Logger    *slog.Logger
}

type peerConn struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (c *peerConn) writeJSON(v any) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn.WriteJSON(v)
}

// Node is one instance's view of the gossip network.
type Node struct {
	instanceID  string
	genesisHash string
	endpoint    string
	signer      *crypto.Ed25519Signer
	book        *PeerBook

	mu       sync.Mutex
	handlers map[contracts.MessageType]Handler
	conns    map[string]*peerConn
	limiters map[string]*rate.Limiter
	seen     map[string]struct{}
	seenRing []string

	sendRate rate.Limit
	inbound  chan contracts.PeerMessage
	upgrader websocket.Upgrader
	clock    func() time.Time
	logger   *slog.Logger
	done     chan struct{}
	once     sync.Once
}

// NewNode builds a node. Call Start before connecting or serving.
func NewNode(cfg Config) (*Node, error) {
	if cfg.InstanceID == "" || cfg.GenesisHash == "" {
		return nil, errors.New("p2p: instance id and genesis hash required")
	}
	if cfg.Signer == nil || cfg.Trust == nil {
		return nil, errors.New("p2p: signer and trust set required")
	}
	if cfg.SendRate <= 0 {
		cfg.SendRate = 20
	}
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 256
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Node{
		instanceID:  cfg.InstanceID,
		genesisHash: cfg.GenesisHash,
		endpoint:    cfg.Endpoint,
		signer:      cfg.Signer,
		book:        NewPeerBook(cfg.Trust),
		handlers:    make(map[contracts.MessageType]Handler),
		conns:       make(map[string]*peerConn),
		limiters:    make(map[string]*rate.Limiter),
		seen:        make(map[string]struct{}),
		sendRate:    cfg.SendRate,
		inbound:     make(chan contracts.PeerMessage, cfg.QueueSize),
		clock:       time.Now,
		logger:      cfg.Logger,
		done:        make(chan struct{}),
	}, nil
}

// Peers exposes the node's peer book.
func (n *Node) Peers() *PeerBook { return n.book }

// Handle registers the handler for a message type. Later registrations
// replace earlier ones.
func (n *Node) Handle(msgType contracts.MessageType, h Handler) {
	n.mu.Lock()
	defer n.mu.Unlock()
	n.handlers[msgType] = h
}

// Start launches the dispatch loop.
func (n *Node) Start() {
	go n.dispatch()
}

// Close stops dispatch and drops all connections.
func (n *Node) Close() {
	n.once.Do(func() { close(n.done) })
	n.mu.Lock()
	defer n.mu.Unlock()
	for _, pc := range n.conns {
		_ = pc.conn.Close()
	}
	n.conns = make(map[string]*peerConn)
}

func (n *Node) dispatch() {
	for {
		select {
		case <-n.done:
			return
		case msg := <-n.inbound:
			n.mu.Lock()
			h := n.handlers[msg.Type]
			n.mu.Unlock()
			if h == nil {
				n.logger.Debug("no handler", "type", string(msg.Type))
				continue
			}
			h(msg)
		}
	}
}

// discoveryPayload is what a node advertises about itself.
func (n *Node) discoveryPayload() map[string]any {
	return map[string]any{
		"genesis_hash": n.genesisHash,
		"endpoint":     n.endpoint,
		"public_key":   n.signer.PublicKey(),
	}
}

// Connect dials a bootstrap endpoint, exchanges discovery, and admits
// the peer. Unverified peers are tracked but the connection is dropped.
func (n *Node) Connect(ctx context.Context, endpoint string) error {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint, nil)
	if err != nil {
		return fmt.Errorf("p2p: dial %s: %w", endpoint, err)
	}

	hello, err := NewMessage(n.signer, contracts.MsgDiscovery, n.instanceID, "", n.discoveryPayload(), n.clock())
	if err != nil {
		_ = conn.Close()
		return err
	}
	if err := conn.WriteJSON(hello); err != nil {
		_ = conn.Close()
		return fmt.Errorf("p2p: send discovery: %w", err)
	}

	var reply contracts.PeerMessage
	if err := conn.ReadJSON(&reply); err != nil {
		_ = conn.Close()
		return fmt.Errorf("p2p: read discovery reply: %w", err)
	}
	peerID, err := n.admitDiscovery(reply)
	if err != nil {
		_ = conn.Close()
		return err
	}
	n.attach(peerID, conn)
	return nil
}

// ServeHTTP accepts an inbound gossip connection: discovery first, then
// the message stream.
func (n *Node) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	conn, err := n.upgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}

	var hello contracts.PeerMessage
	if err := conn.ReadJSON(&hello); err != nil {
		_ = conn.Close()
		return
	}
	peerID, err := n.admitDiscovery(hello)
	if err != nil {
		n.logger.Warn("peer rejected", "error", err)
		_ = conn.Close()
		return
	}

	reply, err := NewMessage(n.signer, contracts.MsgDiscovery, n.instanceID, peerID, n.discoveryPayload(), n.clock())
	if err != nil || conn.WriteJSON(reply) != nil {
		_ = conn.Close()
		return
	}
	n.attach(peerID, conn)
}

// admitDiscovery validates a discovery message and records the peer.
// The envelope is verified against the key the peer itself advertises;
// what gates trust is the genesis hash, not the key.
func (n *Node) admitDiscovery(msg contracts.PeerMessage) (string, error) {
	if msg.Type != contracts.MsgDiscovery || msg.SenderInstanceID == "" {
		return "", errors.New("p2p: malformed discovery")
	}
	genesisHash, _ := msg.Payload["genesis_hash"].(string)
	endpoint, _ := msg.Payload["endpoint"].(string)
	publicKey, _ := msg.Payload["public_key"].(string)
	if genesisHash == "" || publicKey == "" {
		return "", errors.New("p2p: discovery missing genesis hash or key")
	}
	if err := VerifyEnvelope(publicKey, msg); err != nil {
		return "", err
	}
	verified := n.book.Admit(msg.SenderInstanceID, genesisHash, endpoint, publicKey)
	if !verified {
		return "", fmt.Errorf("%w: %s genesis %s", ErrPeerNotVerified, msg.SenderInstanceID, genesisHash)
	}
	return msg.SenderInstanceID, nil
}

func (n *Node) attach(peerID string, conn *websocket.Conn) {
	pc := &peerConn{conn: conn}
	n.mu.Lock()
	if old, ok := n.conns[peerID]; ok {
		_ = old.conn.Close()
	}
	n.conns[peerID] = pc
	if _, ok := n.limiters[peerID]; !ok {
		n.limiters[peerID] = rate.NewLimiter(n.sendRate, int(n.sendRate))
	}
	n.mu.Unlock()
	go n.readLoop(peerID, pc)
}

func (n *Node) readLoop(peerID string, pc *peerConn) {
	defer func() {
		_ = pc.conn.Close()
		n.mu.Lock()
		if n.conns[peerID] == pc {
			delete(n.conns, peerID)
		}
		n.mu.Unlock()
	}()
	for {
		var msg contracts.PeerMessage
		if err := pc.conn.ReadJSON(&msg); err != nil {
			select {
			case <-n.done:
			default:
				n.logger.Debug("peer read ended", "peer", peerID, "error", err)
			}
			return
		}
		n.receive(peerID, msg)
	}
}

// receive applies the inbound gate: sender matches the connection,
// signature verifies, message is new, and per-sender timestamps never
// run backwards. Accepted messages enter the dispatch queue.
func (n *Node) receive(peerID string, msg contracts.PeerMessage) {
	if msg.SenderInstanceID != peerID {
		n.book.RecordFailure(peerID)
		return
	}
	publicKey, ok := n.book.PublicKey(peerID)
	if !ok {
		return
	}
	if err := VerifyEnvelope(publicKey, msg); err != nil {
		n.logger.Warn("bad envelope", "peer", peerID, "message_id", msg.MessageID)
		n.book.RecordFailure(peerID)
		return
	}
	if !n.markSeen(msg.MessageID) {
		return
	}
	if !n.book.acceptTimestamp(peerID, msg.Timestamp) {
		return
	}
	n.book.RecordSuccess(peerID)
	select {
	case n.inbound <- msg:
	default:
		n.logger.Warn("inbound queue full, dropping", "message_id", msg.MessageID)
	}
}

// markSeen returns false for duplicates. The window is bounded; the
// oldest entries fall out first.
func (n *Node) markSeen(messageID string) bool {
	n.mu.Lock()
	defer n.mu.Unlock()
	if _, dup := n.seen[messageID]; dup {
		return false
	}
	n.seen[messageID] = struct{}{}
	n.seenRing = append(n.seenRing, messageID)
	if len(n.seenRing) > seenCap {
		evict := n.seenRing[0]
		n.seenRing = n.seenRing[1:]
		delete(n.seen, evict)
	}
	return true
}

// Broadcast signs one message and sends it to every verified, connected
// peer. Each send is its own goroutine; failures are logged and scored,
// never fatal.
func (n *Node) Broadcast(ctx context.Context, msgType contracts.MessageType, payload map[string]any) (string, error) {
	msg, err := NewMessage(n.signer, msgType, n.instanceID, contracts.Broadcast, payload, n.clock())
	if err != nil {
		return "", err
	}
	// Our own broadcasts count as seen so a peer echo is suppressed.
	n.markSeen(msg.MessageID)

	n.mu.Lock()
	targets := make(map[string]*peerConn, len(n.conns))
	for id, pc := range n.conns {
		if peer, ok := n.book.Get(id); ok && peer.Verified {
			targets[id] = pc
		}
	}
	n.mu.Unlock()

	for peerID, pc := range targets {
		go n.sendTo(ctx, peerID, pc, msg)
	}
	return msg.MessageID, nil
}

// Send delivers a directed message to one verified peer.
func (n *Node) Send(ctx context.Context, peerID string, msgType contracts.MessageType, payload map[string]any) (string, error) {
	peer, ok := n.book.Get(peerID)
	if !ok || !peer.Verified {
		return "", ErrPeerNotVerified
	}
	n.mu.Lock()
	pc, connected := n.conns[peerID]
	n.mu.Unlock()
	if !connected {
		return "", fmt.Errorf("p2p: no connection to %s", peerID)
	}
	msg, err := NewMessage(n.signer, msgType, n.instanceID, peerID, payload, n.clock())
	if err != nil {
		return "", err
	}
	n.markSeen(msg.MessageID)
	n.sendTo(ctx, peerID, pc, msg)
	return msg.MessageID, nil
}

func (n *Node) sendTo(ctx context.Context, peerID string, pc *peerConn, msg contracts.PeerMessage) {
	n.mu.Lock()
	limiter := n.limiters[peerID]
	n.mu.Unlock()
	if limiter != nil {
		if err := limiter.Wait(ctx); err != nil {
			return
		}
	}
	if err := pc.writeJSON(msg); err != nil {
		n.logger.Warn("send failed", "peer", peerID, "message_id", msg.MessageID, "error", err)
		n.book.RecordFailure(peerID)
		return
	}
	n.book.RecordSuccess(peerID)
}
