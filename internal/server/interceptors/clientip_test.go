package interceptors

import (
	"context"
	"net"
	"testing"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

func TestClientIP(t *testing.T) {
	peerCtx := peer.NewContext(context.Background(), &peer.Peer{Addr: &net.TCPAddr{IP: net.ParseIP("192.0.2.7"), Port: 5555}})
	tests := []struct {
		name string
		ctx  context.Context
		want string
	}{
		{"forwarded chain", metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-forwarded-for", "203.0.113.1, 10.0.0.1")), "203.0.113.1"},
		{"real ip", metadata.NewIncomingContext(context.Background(), metadata.Pairs("x-real-ip", "203.0.113.2")), "203.0.113.2"},
		{"peer", peerCtx, "192.0.2.7"},
		{"nothing", context.Background(), "unknown"},
	}
	for _, tt := range tests {
		if got := ClientIP(tt.ctx); got != tt.want {
			t.Errorf("%s: ClientIP = %q, want %q", tt.name, got, tt.want)
		}
	}
}
