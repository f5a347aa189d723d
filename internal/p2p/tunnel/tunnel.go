package tunnel

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"sync"
	"time"

	"github.com/flynn/noise"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/cis-project/cis-core/internal/domain"
	"github.com/cis-project/cis-core/internal/security"
)

// Signer produces an Ed25519 signature over a nonce, proving control of a
// node's DID during the Authenticating step.
type Signer func(nonce []byte) (signature []byte, did string)

// Verifier checks a DID challenge response; wired to security.VerifyChallenge
// in production, substitutable in tests.
type Verifier func(did string, nonce []byte, signature []byte) bool

// Tunnel is one authenticated Noise-over-WebSocket session to a peer.
// Outbound frames are serialized through a single-producer queue so
// per-tunnel send order is preserved.
type Tunnel struct {
	ID       string
	PeerID   string
	Relayed  bool
	OpenedAt time.Time

	conn *websocket.Conn

	mu    sync.Mutex
	state domain.TunnelState

	sendCS *noise.CipherState
	recvCS *noise.CipherState

	outbound  chan []byte
	closeOnce sync.Once
	closed    chan struct{}

	pingCounter   uint64
	unansweredPings int
	maxUnanswered   int

	OnData   func(sessionID uuid.UUID, payload []byte)
	OnClosed func(reason string)
}

const outboundQueueDepth = 256

func newTunnel(id, peerID string, conn *websocket.Conn, relayed bool) *Tunnel {
	return &Tunnel{
		ID:            id,
		PeerID:        peerID,
		Relayed:       relayed,
		OpenedAt:      time.Now(),
		conn:          conn,
		state:         domain.TunnelConnecting,
		outbound:      make(chan []byte, outboundQueueDepth),
		closed:        make(chan struct{}),
		maxUnanswered: 3,
	}
}

// State returns the tunnel's current lifecycle state.
func (t *Tunnel) State() domain.TunnelState {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.state
}

func (t *Tunnel) setState(s domain.TunnelState) {
	t.mu.Lock()
	t.state = s
	t.mu.Unlock()
}

// IsUsable reports whether SendData may currently succeed.
func (t *Tunnel) IsUsable() bool {
	return t.State() == domain.TunnelReady
}

// DialClient opens the initiating side of a tunnel: dials the WebSocket
// URL, runs the Noise XX handshake as initiator, then answers the
// responder's DID challenge.
func DialClient(ctx context.Context, url, peerID string, staticKey noise.DHKey, sign Signer) (*Tunnel, error) {
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, nil)
	if err != nil {
		return nil, fmt.Errorf("tunnel: dial: %w", err)
	}

	t := newTunnel(uuid.NewString(), peerID, conn, false)
	t.setState(domain.TunnelHandshaking)

	hs, err := newHandshake(true, staticKey)
	if err != nil {
		conn.Close()
		return nil, err
	}

	msg1, err := hs.step1Send()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := t.sendHandshakeFrame(1, msg1); err != nil {
		conn.Close()
		return nil, err
	}

	msg2, err := t.recvHandshakeFrame()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := hs.step2Recv(msg2); err != nil {
		conn.Close()
		return nil, domain.Wrap(domain.ErrP2P, "tunnel.handshake_failed", domain.ErrTunnelHandshake)
	}

	msg3, sendCS, recvCS, err := hs.step3Send()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := t.sendHandshakeFrame(3, msg3); err != nil {
		conn.Close()
		return nil, err
	}
	t.sendCS, t.recvCS = sendCS, recvCS

	t.setState(domain.TunnelAuthenticating)
	challenge, err := t.recvAuthChallenge(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	sig, did := sign(challenge)
	if err := t.sendAuthResponse(did, sig); err != nil {
		conn.Close()
		return nil, err
	}

	t.setState(domain.TunnelReady)
	return t, nil
}

// AcceptServer completes the responder side of a tunnel over an already
// upgraded WebSocket connection, verifying the initiator's DID challenge
// response before marking the tunnel Ready.
func AcceptServer(ctx context.Context, conn *websocket.Conn, staticKey noise.DHKey, verify Verifier) (*Tunnel, error) {
	t := newTunnel(uuid.NewString(), "", conn, false)
	t.setState(domain.TunnelHandshaking)

	hs, err := newHandshake(false, staticKey)
	if err != nil {
		conn.Close()
		return nil, err
	}

	msg1, err := t.recvHandshakeFrame()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := hs.step1Recv(msg1); err != nil {
		conn.Close()
		return nil, domain.Wrap(domain.ErrP2P, "tunnel.handshake_failed", domain.ErrTunnelHandshake)
	}

	msg2, err := hs.step2Send()
	if err != nil {
		conn.Close()
		return nil, err
	}
	if err := t.sendHandshakeFrame(2, msg2); err != nil {
		conn.Close()
		return nil, err
	}

	msg3, err := t.recvHandshakeFrame()
	if err != nil {
		conn.Close()
		return nil, err
	}
	sendCS, recvCS, err := hs.step3Recv(msg3)
	if err != nil {
		conn.Close()
		return nil, domain.Wrap(domain.ErrP2P, "tunnel.handshake_failed", domain.ErrTunnelHandshake)
	}
	// Responder's send/recv cipher states come back reversed relative to
	// the initiator's, since both derive from the same two-directional
	// split; swap so Tunnel.sendCS always means "this side's outbound".
	t.sendCS, t.recvCS = recvCS, sendCS

	t.setState(domain.TunnelAuthenticating)
	nonce := make([]byte, 32)
	if _, err := rand.Read(nonce); err != nil {
		conn.Close()
		return nil, err
	}
	if err := t.sendAuthChallenge(nonce); err != nil {
		conn.Close()
		return nil, err
	}

	did, sig, err := t.recvAuthResponse(ctx)
	if err != nil {
		conn.Close()
		return nil, err
	}
	if verify == nil {
		verify = security.VerifyChallenge
	}
	if !verify(did, nonce, sig) {
		conn.Close()
		return nil, domain.Wrap(domain.ErrP2P, "tunnel.auth_failed", domain.ErrAuthChallenge)
	}
	t.PeerID = did

	t.setState(domain.TunnelReady)
	return t, nil
}

// Run starts the tunnel's read loop and outbound writer; it blocks until
// the tunnel closes. Callers start this in its own goroutine.
func (t *Tunnel) Run(pingInterval time.Duration) {
	go t.writeLoop()
	go t.pingLoop(pingInterval)
	t.readLoop()
}

func (t *Tunnel) writeLoop() {
	for {
		select {
		case frame, ok := <-t.outbound:
			if !ok {
				return
			}
			if err := t.conn.WriteMessage(websocket.BinaryMessage, frame); err != nil {
				t.fail("write failed: " + err.Error())
				return
			}
		case <-t.closed:
			return
		}
	}
}

func (t *Tunnel) pingLoop(interval time.Duration) {
	if interval <= 0 {
		interval = 15 * time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			t.mu.Lock()
			t.pingCounter++
			counter := t.pingCounter
			t.unansweredPings++
			unanswered := t.unansweredPings
			t.mu.Unlock()

			if unanswered > t.maxUnanswered {
				t.fail("ping timeout")
				return
			}
			_ = t.sendControl(ControlPing, PingPayload{Counter: counter})
		case <-t.closed:
			return
		}
	}
}

func (t *Tunnel) readLoop() {
	for {
		kind, data, err := t.conn.ReadMessage()
		if err != nil {
			t.fail("read failed: " + err.Error())
			return
		}
		switch kind {
		case websocket.BinaryMessage:
			t.handleData(data)
		case websocket.TextMessage:
			t.handleControl(data)
		}
	}
}

func (t *Tunnel) handleData(frame []byte) {
	sessionID, ciphertext, ok := DecodeData(frame)
	if !ok {
		return
	}
	plaintext, err := t.recvCS.Decrypt(nil, nil, ciphertext)
	if err != nil {
		return
	}
	if t.OnData != nil {
		t.OnData(sessionID, plaintext)
	}
}

func (t *Tunnel) handleControl(data []byte) {
	f, err := DecodeControl(data)
	if err != nil {
		return
	}
	switch f.Kind {
	case ControlPong:
		t.mu.Lock()
		t.unansweredPings = 0
		t.mu.Unlock()
	case ControlPing:
		var p PingPayload
		_ = decodePayload(f.Payload, &p)
		_ = t.sendControl(ControlPong, p)
	case ControlClose:
		t.fail("peer closed")
	}
}

// SendData encrypts payload under this tunnel's session key and enqueues
// it for delivery; enqueue order is the delivery order (single-producer
// queue, so callers issuing sends from one goroutine get FIFO semantics).
func (t *Tunnel) SendData(sessionID uuid.UUID, payload []byte) error {
	if !t.IsUsable() {
		return domain.Wrap(domain.ErrP2P, "tunnel.not_ready", domain.ErrTunnelClosed)
	}
	ciphertext := t.sendCS.Encrypt(nil, nil, payload)
	frame := EncodeData(sessionID, ciphertext)
	select {
	case t.outbound <- frame:
		return nil
	default:
		return domain.NewError(domain.ErrP2P, "tunnel.queue_full", "outbound queue is full")
	}
}

// Close drops the outbound queue, sends a Close control frame, and
// transitions to Closed.
func (t *Tunnel) Close() {
	t.closeOnce.Do(func() {
		_ = t.sendControl(ControlClose, struct{}{})
		t.setState(domain.TunnelClosed)
		close(t.closed)
		t.conn.Close()
		if t.OnClosed != nil {
			t.OnClosed("closed")
		}
	})
}

func (t *Tunnel) fail(reason string) {
	t.closeOnce.Do(func() {
		t.setState(domain.TunnelFailed)
		close(t.closed)
		t.conn.Close()
		if t.OnClosed != nil {
			t.OnClosed(reason)
		}
	})
}

func (t *Tunnel) sendControl(kind ControlKind, payload any) error {
	raw, err := EncodeControl(kind, payload)
	if err != nil {
		return err
	}
	return t.conn.WriteMessage(websocket.TextMessage, raw)
}

func (t *Tunnel) sendHandshakeFrame(step int, data []byte) error {
	return t.sendControl(ControlHandshake, HandshakePayload{Step: step, Data: data})
}

func (t *Tunnel) recvHandshakeFrame() ([]byte, error) {
	kind, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if kind != websocket.TextMessage {
		return nil, domain.Wrap(domain.ErrP2P, "tunnel.unexpected_frame", domain.ErrTunnelHandshake)
	}
	f, err := DecodeControl(data)
	if err != nil || f.Kind != ControlHandshake {
		return nil, domain.Wrap(domain.ErrP2P, "tunnel.unexpected_frame", domain.ErrTunnelHandshake)
	}
	var p HandshakePayload
	if err := decodePayload(f.Payload, &p); err != nil {
		return nil, err
	}
	return p.Data, nil
}

func (t *Tunnel) sendAuthChallenge(nonce []byte) error {
	return t.sendControl(ControlAuth, AuthChallengePayload{Nonce: hex.EncodeToString(nonce)})
}

func (t *Tunnel) recvAuthChallenge(ctx context.Context) ([]byte, error) {
	kind, data, err := t.conn.ReadMessage()
	if err != nil {
		return nil, err
	}
	if kind != websocket.TextMessage {
		return nil, domain.Wrap(domain.ErrP2P, "tunnel.unexpected_frame", domain.ErrAuthChallenge)
	}
	f, err := DecodeControl(data)
	if err != nil || f.Kind != ControlAuth {
		return nil, domain.Wrap(domain.ErrP2P, "tunnel.unexpected_frame", domain.ErrAuthChallenge)
	}
	var p AuthChallengePayload
	if err := decodePayload(f.Payload, &p); err != nil {
		return nil, err
	}
	return hex.DecodeString(p.Nonce)
}

func (t *Tunnel) sendAuthResponse(did string, sig []byte) error {
	return t.sendControl(ControlAuth, AuthResponsePayload{DID: did, Signature: sig})
}

func (t *Tunnel) recvAuthResponse(ctx context.Context) (string, []byte, error) {
	kind, data, err := t.conn.ReadMessage()
	if err != nil {
		return "", nil, err
	}
	if kind != websocket.TextMessage {
		return "", nil, domain.Wrap(domain.ErrP2P, "tunnel.unexpected_frame", domain.ErrAuthChallenge)
	}
	f, err := DecodeControl(data)
	if err != nil || f.Kind != ControlAuth {
		return "", nil, domain.Wrap(domain.ErrP2P, "tunnel.unexpected_frame", domain.ErrAuthChallenge)
	}
	var p AuthResponsePayload
	if err := decodePayload(f.Payload, &p); err != nil {
		return "", nil, err
	}
	return p.DID, p.Signature, nil
}
