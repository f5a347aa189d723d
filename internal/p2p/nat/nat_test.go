package nat

import (
	"context"
	"net"
	"testing"
	"time"

	"github.com/cis-project/cis-core/internal/domain"
)

func TestNATTypeCanHolePunch(t *testing.T) {
	cases := []struct {
		nt   domain.NATType
		want bool
	}{
		{domain.NATOpen, true},
		{domain.NATFullCone, true},
		{domain.NATRestrictedCone, true},
		{domain.NATPortRestrictedCone, true},
		{domain.NATSymmetric, false},
		{domain.NATBlocked, false},
	}
	for _, c := range cases {
		if got := c.nt.CanHolePunch(); got != c.want {
			t.Errorf("%s.CanHolePunch() = %v, want %v", c.nt, got, c.want)
		}
	}
}

func TestNegotiateChoosesDirectWhenPunchSucceeded(t *testing.T) {
	result := Negotiate(context.Background(), "peer-1", domain.NATFullCone, domain.NATRestrictedCone, true, DefaultTURNConfig())
	if result.Strategy != StrategyDirectP2P {
		t.Fatalf("Strategy = %v, want StrategyDirectP2P", result.Strategy)
	}
}

func TestNegotiateFallsBackWhenSymmetric(t *testing.T) {
	result := Negotiate(context.Background(), "peer-1", domain.NATSymmetric, domain.NATSymmetric, false, TURNConfig{})
	if result.Strategy == StrategyDirectP2P {
		t.Fatal("expected Symmetric NATs to skip direct P2P")
	}
	if result.Strategy != StrategyFailed {
		t.Fatalf("Strategy = %v, want StrategyFailed with no TURN server configured", result.Strategy)
	}
}

func TestPunchSucceedsWithLoopbackPeer(t *testing.T) {
	peerConn, err := net.ListenPacket("udp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("ListenPacket: %v", err)
	}
	defer peerConn.Close()

	done := make(chan struct{})
	go func() {
		defer close(done)
		buf := make([]byte, 256)
		peerConn.SetReadDeadline(time.Now().Add(2 * time.Second))
		n, addr, err := peerConn.ReadFrom(buf)
		if err != nil {
			return
		}
		peerConn.WriteTo(buf[:n], addr)
	}()

	coord := PunchCoordination{
		SessionID:  "sess-1",
		RemoteAddr: peerConn.LocalAddr().String(),
		StartAt:    time.Now(),
		Timeout:    1500 * time.Millisecond,
		Token:      "tok",
	}
	info := Punch(context.Background(), coord)
	<-done
	if !info.Success {
		t.Fatalf("Punch() did not succeed: %+v", info)
	}
}
