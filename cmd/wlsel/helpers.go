package main

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"os"
	"strconv"
	"time"

	"github.com/spf13/viper"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	"go.klb.dev/wlsel/internal/grpcservice"
	"go.klb.dev/wlsel/internal/ipc"
	"go.klb.dev/wlsel/internal/tlsconf"
)

const (
	defaultPort = 8752
	// maxMessage bounds a single gRPC message on the client side.
	maxMessage = 256 << 20
)

func getenv(key string) string  { return os.Getenv(key) }
func hostname() (string, error) { return os.Hostname() }

func isContainerID(s string) bool {
	if len(s) < 12 || len(s) > 64 {
		return false
	}
	for _, c := range s {
		if (c < '0' || c > '9') && (c < 'a' || c > 'f') {
			return false
		}
	}
	return true
}

// defaultSource returns a human-readable identifier for this host.
func defaultSource() string {
	for _, env := range []string{
		"WLSEL_SOURCE",
		"CONTAINER_NAME",
		"COMPOSE_SERVICE",
		"SERVICE_NAME",
		"HOSTNAME_FRIENDLY",
	} {
		if v := getenv(env); v != "" {
			return v
		}
	}
	h, err := hostname()
	if err != nil {
		return "unknown"
	}
	if isContainerID(h) {
		return "container-" + h[:8]
	}
	return h
}

// defaultHosts is the probe order used when no --server is given and no
// local socket answers.
var defaultHosts = []string{
	"host.docker.internal",     // Docker Desktop
	"host.containers.internal", // Podman rootless
	"localhost",
}

// withPort appends the default port to addr when it has none.
func withPort(addr string) string {
	if _, _, err := net.SplitHostPort(addr); err == nil {
		return addr
	}
	return net.JoinHostPort(addr, strconv.Itoa(defaultPort))
}

func callOptions() grpc.DialOption {
	return grpc.WithDefaultCallOptions(
		grpc.MaxCallRecvMsgSize(maxMessage),
		grpc.MaxCallSendMsgSize(maxMessage),
	)
}

// dialIPC returns a connection to the local IPC socket. No token needed: the
// socket is owner-restricted by the OS.
func dialIPC(source string) (*grpc.ClientConn, error) {
	return grpc.NewClient(
		"unix://"+ipc.SocketPath(),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithPerRPCCredentials(&grpcservice.Credentials{Source: source}),
		callOptions(),
	)
}

// dialServer probes hosts in order and returns the first reachable TLS
// connection. If server is non-empty only that address is tried. token is
// used for both TLS key derivation and per-RPC auth.
func dialServer(server, token, source string) (*grpc.ClientConn, string, error) {
	hosts := defaultHosts
	if server != "" {
		hosts = []string{server}
	}
	passphrase := token
	if passphrase == "" {
		passphrase = tlsconf.DefaultPassphrase
	}
	creds, err := tlsconf.ClientCredentials(passphrase)
	if err != nil {
		return nil, "", fmt.Errorf("tls credentials: %w", err)
	}
	opts := []grpc.DialOption{
		grpc.WithTransportCredentials(creds),
		grpc.WithPerRPCCredentials(&grpcservice.Credentials{Token: token, Source: source}),
		callOptions(),
	}

	var lastErr error
	for _, h := range hosts {
		addr := withPort(h)
		conn, err := grpc.NewClient(addr, opts...)
		if err != nil {
			lastErr = fmt.Errorf("%s: %w", addr, err)
			continue
		}
		// Verify reachability with a short timeout
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		_, err = grpcservice.NewClient(conn).Status(ctx)
		cancel()
		if err == nil {
			return conn, addr, nil
		}
		_ = conn.Close()
		lastErr = fmt.Errorf("%s: %w", addr, err)
	}
	return nil, "", fmt.Errorf("no reachable wlsel server: %w", lastErr)
}

// connect picks the local socket when it is up and no server is configured,
// otherwise a TLS connection. It also describes the transport chosen.
func connect(v *viper.Viper) (*grpcservice.Client, *grpc.ClientConn, string, error) {
	source := v.GetString("source")
	server := v.GetString("server")
	if server == "" && ipc.IsRunning() {
		conn, err := dialIPC(source)
		if err == nil {
			return grpcservice.NewClient(conn), conn, fmt.Sprintf("ipc (%s)", ipc.SocketPath()), nil
		}
		slog.Debug("ipc dial failed, trying tcp", "err", err)
	}
	conn, addr, err := dialServer(server, v.GetString("token"), source)
	if err != nil {
		return nil, nil, "", err
	}
	return grpcservice.NewClient(conn), conn, fmt.Sprintf("tcp (%s)", addr), nil
}
