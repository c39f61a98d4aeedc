package interceptors

import (
	"context"
	"net"
	"strings"

	"google.golang.org/grpc/metadata"
	"google.golang.org/grpc/peer"
)

const unknownIP = "unknown"

// ClientIP is the audit logger's IP extractor. Proxy headers win over the
// transport peer; for x-forwarded-for the left-most hop is the client.
func ClientIP(ctx context.Context) string {
	if md, ok := metadata.FromIncomingContext(ctx); ok {
		if fwd := firstValue(md, "x-forwarded-for"); fwd != "" {
			client, _, _ := strings.Cut(fwd, ",")
			return strings.TrimSpace(client)
		}
		if real := firstValue(md, "x-real-ip"); real != "" {
			return real
		}
	}
	p, ok := peer.FromContext(ctx)
	if !ok || p.Addr == nil {
		return unknownIP
	}
	addr := p.Addr.String()
	if host, _, err := net.SplitHostPort(addr); err == nil {
		return host
	}
	return addr
}

func firstValue(md metadata.MD, key string) string {
	if vals := md.Get(key); len(vals) > 0 {
		return strings.TrimSpace(vals[0])
	}
	return ""
}
