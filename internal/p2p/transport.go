// Package p2p wires the Kademlia DHT, NAT traversal, and Noise tunnel
// sub-packages into one transport a node actually dials out over: a plain
// UDP socket carrying one JSON-encoded RPC per datagram for the four
// DhtTransport operations.
package p2p

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net"
	"sync"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

const (
	rpcPing      = "PING"
	rpcFindNode  = "FIND_NODE"
	rpcStore     = "STORE"
	rpcFindValue = "FIND_VALUE"

	maxDatagram = 16 * 1024
	rpcTimeout  = 5 * time.Second
)

type rpcEnvelope struct {
	Type    string          `json:"type"`
	ReplyTo string          `json:"reply_to"` // not set or read here; replies go to the datagram's source address
	Payload json.RawMessage `json:"payload"`
}

type findNodeArgs struct {
	Target [20]byte `json:"target"`
}

type findNodeReply struct {
	Contacts []domain.NodeContact `json:"contacts"`
}

type storeArgs struct {
	Key   [20]byte `json:"key"`
	Value []byte   `json:"value"`
}

type findValueArgs struct {
	Key [20]byte `json:"key"`
}

type findValueReply struct {
	Value    []byte                `json:"value,omitempty"`
	Contacts []domain.NodeContact  `json:"contacts,omitempty"`
}

// LocalStore is the subset of kademlia.DHT this transport needs to answer
// incoming FIND_NODE, STORE and FIND_VALUE RPCs, kept as a narrow
// [20]byte-keyed interface; KademliaStoreHandle adapts a *kademlia.DHT
// to it.
type LocalStore interface {
	LocalPut(key [20]byte, value []byte)
	LocalGet(key [20]byte) ([]byte, bool)
	LocalFindNode(target [20]byte) []domain.NodeContact
}

// UDPTransport implements domain.DhtTransport over a single UDP socket: it
// sends one RPC per datagram and multiplexes replies in-process by the
// address they arrive from, since Kademlia RPCs are a single request/reply
// round trip with no need for connection state.
type UDPTransport struct {
	conn  *net.UDPConn
	store LocalStore

	mu      sync.Mutex
	pending map[string]chan []byte
}

// NewUDPTransport binds listenAddr (e.g. "0.0.0.0:4001") and starts serving
// incoming RPCs against store in the background.
func NewUDPTransport(listenAddr string, store LocalStore) (*UDPTransport, error) {
	addr, err := net.ResolveUDPAddr("udp", listenAddr)
	if err != nil {
		return nil, domain.Wrap(domain.ErrP2P, "p2p.resolve_listen_addr_failed", err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return nil, domain.Wrap(domain.ErrP2P, "p2p.listen_failed", err)
	}

	t := &UDPTransport{
		conn:    conn,
		store:   store,
		pending: make(map[string]chan []byte),
	}
	go t.serve()
	return t, nil
}

// Close stops serving and releases the socket.
func (t *UDPTransport) Close() error {
	return t.conn.Close()
}

// LocalAddr returns the bound UDP endpoint.
func (t *UDPTransport) LocalAddr() string {
	return t.conn.LocalAddr().String()
}

func (t *UDPTransport) serve() {
	buf := make([]byte, maxDatagram)
	for {
		n, from, err := t.conn.ReadFromUDP(buf)
		if err != nil {
			return // socket closed
		}
		raw := make([]byte, n)
		copy(raw, buf[:n])
		go t.handleDatagram(raw, from)
	}
}

func (t *UDPTransport) handleDatagram(raw []byte, from *net.UDPAddr) {
	var env rpcEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return
	}

	// A reply datagram has no ReplyTo of its own — correlate it to a
	// pending request by the sender's address instead of a request ID,
	// since this transport only ever has one in-flight RPC per peer addr
	// at a time (Kademlia lookups fan out across distinct peers).
	if env.Type == "" {
		return
	}
	if bytes.HasSuffix([]byte(env.Type), []byte("_REPLY")) {
		t.deliverReply(from.String(), raw)
		return
	}

	t.handleRequest(env, from)
}

func (t *UDPTransport) handleRequest(env rpcEnvelope, from *net.UDPAddr) {
	rpcsServed.WithLabelValues(env.Type).Inc()
	var reply rpcEnvelope
	switch env.Type {
	case rpcPing:
		reply = rpcEnvelope{Type: "PING_REPLY"}

	case rpcFindNode:
		var args findNodeArgs
		_ = json.Unmarshal(env.Payload, &args)
		contacts := t.store.LocalFindNode(args.Target)
		payload, _ := json.Marshal(findNodeReply{Contacts: contacts})
		reply = rpcEnvelope{Type: "FIND_NODE_REPLY", Payload: payload}

	case rpcStore:
		var args storeArgs
		_ = json.Unmarshal(env.Payload, &args)
		t.store.LocalPut(args.Key, args.Value)
		reply = rpcEnvelope{Type: "STORE_REPLY"}

	case rpcFindValue:
		var args findValueArgs
		_ = json.Unmarshal(env.Payload, &args)
		var fv findValueReply
		if value, ok := t.store.LocalGet(args.Key); ok {
			fv.Value = value
		} else {
			fv.Contacts = t.store.LocalFindNode(args.Key)
		}
		payload, _ := json.Marshal(fv)
		reply = rpcEnvelope{Type: "FIND_VALUE_REPLY", Payload: payload}

	default:
		return
	}

	raw, err := json.Marshal(reply)
	if err != nil {
		return
	}
	_, _ = t.conn.WriteToUDP(raw, from)
}

func (t *UDPTransport) deliverReply(fromAddr string, raw []byte) {
	t.mu.Lock()
	ch, ok := t.pending[fromAddr]
	t.mu.Unlock()
	if !ok {
		return
	}
	select {
	case ch <- raw:
	default:
	}
}

// call sends env to the given endpoint and waits for a reply or ctx/
// rpcTimeout, whichever comes first.
func (t *UDPTransport) call(ctx context.Context, endpoint string, env rpcEnvelope) ([]byte, error) {
	rpcsSent.WithLabelValues(env.Type).Inc()
	addr, err := net.ResolveUDPAddr("udp", endpoint)
	if err != nil {
		return nil, domain.Wrap(domain.ErrP2P, "p2p.resolve_peer_addr_failed", err)
	}
	raw, err := json.Marshal(env)
	if err != nil {
		return nil, domain.Wrap(domain.ErrP2P, "p2p.marshal_rpc_failed", err)
	}

	ch := make(chan []byte, 1)
	t.mu.Lock()
	t.pending[addr.String()] = ch
	t.mu.Unlock()
	defer func() {
		t.mu.Lock()
		delete(t.pending, addr.String())
		t.mu.Unlock()
	}()

	if _, err := t.conn.WriteToUDP(raw, addr); err != nil {
		return nil, domain.Wrap(domain.ErrP2P, "p2p.send_rpc_failed", err)
	}

	timeoutCtx, cancel := context.WithTimeout(ctx, rpcTimeout)
	defer cancel()

	select {
	case reply := <-ch:
		return reply, nil
	case <-timeoutCtx.Done():
		rpcTimeouts.WithLabelValues(env.Type).Inc()
		return nil, domain.Wrap(domain.ErrP2P, "p2p.rpc_timeout", fmt.Errorf("no reply from %s: %w", endpoint, timeoutCtx.Err()))
	}
}

// Ping implements domain.DhtTransport.
func (t *UDPTransport) Ping(ctx context.Context, to domain.NodeContact) error {
	_, err := t.call(ctx, to.Endpoint, rpcEnvelope{Type: rpcPing})
	return err
}

// FindNode implements domain.DhtTransport.
func (t *UDPTransport) FindNode(ctx context.Context, to domain.NodeContact, target [20]byte) ([]domain.NodeContact, error) {
	payload, _ := json.Marshal(findNodeArgs{Target: target})
	raw, err := t.call(ctx, to.Endpoint, rpcEnvelope{Type: rpcFindNode, Payload: payload})
	if err != nil {
		return nil, err
	}
	var env rpcEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, domain.Wrap(domain.ErrP2P, "p2p.unmarshal_reply_failed", err)
	}
	var reply findNodeReply
	_ = json.Unmarshal(env.Payload, &reply)
	return reply.Contacts, nil
}

// Store implements domain.DhtTransport.
func (t *UDPTransport) Store(ctx context.Context, to domain.NodeContact, key [20]byte, value []byte) error {
	payload, _ := json.Marshal(storeArgs{Key: key, Value: value})
	_, err := t.call(ctx, to.Endpoint, rpcEnvelope{Type: rpcStore, Payload: payload})
	return err
}

// FindValue implements domain.DhtTransport.
func (t *UDPTransport) FindValue(ctx context.Context, to domain.NodeContact, key [20]byte) ([]byte, []domain.NodeContact, error) {
	payload, _ := json.Marshal(findValueArgs{Key: key})
	raw, err := t.call(ctx, to.Endpoint, rpcEnvelope{Type: rpcFindValue, Payload: payload})
	if err != nil {
		return nil, nil, err
	}
	var env rpcEnvelope
	if err := json.Unmarshal(raw, &env); err != nil {
		return nil, nil, domain.Wrap(domain.ErrP2P, "p2p.unmarshal_reply_failed", err)
	}
	var reply findValueReply
	_ = json.Unmarshal(env.Payload, &reply)
	return reply.Value, reply.Contacts, nil
}
