package nat

import (
	"context"
	"net"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

// HolePunchRequest is sent by the initiating peer to a cloud anchor,
// naming the session and the peer it wants to reach.
type HolePunchRequest struct {
	SessionID  string
	TargetPeer string
	PublicAddr string
	NATType    domain.NATType
}

// PunchCoordination is the anchor's reply: both peers' endpoints, a
// synchronized start time, a timeout, an optional port range for
// Symmetric-NAT fallback (port prediction), and a token both sides echo
// back in HolePunchInfo so the anchor can correlate the outcome.
type PunchCoordination struct {
	SessionID    string
	LocalAddr    string
	RemoteAddr   string
	RemoteNAT    domain.NATType
	StartAt      time.Time
	Timeout      time.Duration
	PortRangeLo  int
	PortRangeHi  int
	Token        string
}

// HolePunchInfo reports the outcome of a coordinated punch attempt back to
// the anchor for diagnostics/metrics.
type HolePunchInfo struct {
	SessionID string
	Token     string
	Success   bool
	LatencyMs int
	Error     string
}

// Anchor is the minimal interface a cloud anchor node implements; the
// federation server registers a concrete implementation and this package
// only depends on the interface so the punch logic stays testable.
type Anchor interface {
	Coordinate(ctx context.Context, req HolePunchRequest) (PunchCoordination, error)
	ReportOutcome(ctx context.Context, info HolePunchInfo)
}

// Punch executes the anchor-mediated simultaneous-open procedure: both
// peers learned their coordination from the same anchor call, so each
// independently waits until StartAt and then fires UDP packets at the
// other's reported endpoint. A non-Symmetric/non-Blocked NAT pair that
// actually transmits at the same instant has a good chance of opening a
// bidirectional path before either side's NAT mapping times out.
func Punch(ctx context.Context, coord PunchCoordination) HolePunchInfo {
	start := time.Now()

	wait := time.Until(coord.StartAt)
	if wait > 0 {
		select {
		case <-time.After(wait):
		case <-ctx.Done():
			return HolePunchInfo{SessionID: coord.SessionID, Token: coord.Token, Error: ctx.Err().Error()}
		}
	}

	remote, err := net.ResolveUDPAddr("udp4", coord.RemoteAddr)
	if err != nil {
		return HolePunchInfo{SessionID: coord.SessionID, Token: coord.Token, Error: err.Error()}
	}

	conn, err := net.ListenPacket("udp4", ":0")
	if err != nil {
		return HolePunchInfo{SessionID: coord.SessionID, Token: coord.Token, Error: err.Error()}
	}
	defer conn.Close()

	deadline := time.Now().Add(coord.Timeout)
	if err := conn.SetDeadline(deadline); err != nil {
		return HolePunchInfo{SessionID: coord.SessionID, Token: coord.Token, Error: err.Error()}
	}

	punchPacket := []byte("cis-punch:" + coord.SessionID)
	for time.Now().Before(deadline) {
		if _, err := conn.WriteTo(punchPacket, remote); err != nil {
			break
		}
		buf := make([]byte, 256)
		conn.SetReadDeadline(time.Now().Add(150 * time.Millisecond))
		if n, _, err := conn.ReadFrom(buf); err == nil && n > 0 {
			return HolePunchInfo{
				SessionID: coord.SessionID,
				Token:     coord.Token,
				Success:   true,
				LatencyMs: int(time.Since(start).Milliseconds()),
			}
		}
	}

	return HolePunchInfo{
		SessionID: coord.SessionID,
		Token:     coord.Token,
		Success:   false,
		LatencyMs: int(time.Since(start).Milliseconds()),
		Error:     "no response before deadline",
	}
}
