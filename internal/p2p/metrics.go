package p2p

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var rpcsSent = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cis",
	Subsystem: "p2p",
	Name:      "rpcs_sent_total",
	Help:      "Total Kademlia RPCs sent over UDP, by RPC type.",
}, []string{"type"})

var rpcTimeouts = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cis",
	Subsystem: "p2p",
	Name:      "rpc_timeouts_total",
	Help:      "Total Kademlia RPCs that received no reply before rpcTimeout.",
}, []string{"type"})

var rpcsServed = promauto.NewCounterVec(prometheus.CounterOpts{
	Namespace: "cis",
	Subsystem: "p2p",
	Name:      "rpcs_served_total",
	Help:      "Total incoming Kademlia RPCs answered, by RPC type.",
}, []string{"type"})
