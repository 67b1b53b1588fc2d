package connection

import (
	"context"
	"crypto/tls"
	"fmt"
	"net/http"

	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/status"
)

// HTTPProber issues a HEAD request. Any response below 500 counts as reachable.
type HTTPProber struct {
	url    string
	client *http.Client
}

// NewHTTPProber creates a HEAD prober for url.
func NewHTTPProber(url string, client *http.Client) *HTTPProber {
	if client == nil {
		client = &http.Client{}
	}
	return &HTTPProber{url: url, client: client}
}

// Probe implements Prober.
func (p *HTTPProber) Probe(ctx context.Context) error {
	req, err := http.NewRequestWithContext(ctx, http.MethodHead, p.url, nil)
	if err != nil {
		return fmt.Errorf("create probe request: %w", err)
	}

	resp, err := p.client.Do(req)
	if err != nil {
		return fmt.Errorf("probe %s: %w", p.url, err)
	}
	_ = resp.Body.Close()

	if resp.StatusCode >= http.StatusInternalServerError {
		return fmt.Errorf("probe %s: http %d", p.url, resp.StatusCode)
	}
	return nil
}

// GRPCProber uses the standard gRPC health checking protocol.
type GRPCProber struct {
	conn    *grpc.ClientConn
	service string
}

// NewGRPCProber dials target lazily. With useTLS false the connection is plaintext.
func NewGRPCProber(target, service string, useTLS bool, opts ...grpc.DialOption) (*GRPCProber, error) {
	creds := insecure.NewCredentials()
	if useTLS {
		creds = credentials.NewTLS(&tls.Config{MinVersion: tls.VersionTLS12})
	}
	opts = append([]grpc.DialOption{grpc.WithTransportCredentials(creds)}, opts...)

	conn, err := grpc.NewClient(target, opts...)
	if err != nil {
		return nil, fmt.Errorf("create grpc client: %w", err)
	}
	return &GRPCProber{conn: conn, service: service}, nil
}

// Probe implements Prober. A server without the health service still
// answered, so Unimplemented counts as reachable.
func (p *GRPCProber) Probe(ctx context.Context) error {
	resp, err := healthpb.NewHealthClient(p.conn).Check(ctx, &healthpb.HealthCheckRequest{Service: p.service})
	if err != nil {
		if status.Code(err) == codes.Unimplemented {
			return nil
		}
		return fmt.Errorf("grpc health check: %w", err)
	}
	if resp.GetStatus() != healthpb.HealthCheckResponse_SERVING {
		return fmt.Errorf("grpc health check: status %s", resp.GetStatus())
	}
	return nil
}

// Close releases the connection.
func (p *GRPCProber) Close() error {
	return p.conn.Close()
}
