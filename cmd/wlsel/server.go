package main

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	gwruntime "github.com/grpc-ecosystem/grpc-gateway/v2/runtime"
	"github.com/soheilhy/cmux"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc"

	"go.klb.dev/wlsel/internal/clip"
	"go.klb.dev/wlsel/internal/compositor"
	"go.klb.dev/wlsel/internal/grpcservice"
	"go.klb.dev/wlsel/internal/ipc"
	"go.klb.dev/wlsel/internal/localpeer"
	"go.klb.dev/wlsel/internal/pipe"
	"go.klb.dev/wlsel/internal/tlsconf"
)

func newServerCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "server",
		Short: "Run the selection server (+ host clipboard integration)",
		Long: `Starts the wlsel server. Every client shares the clipboard and the
primary selection. The host's system clipboard joins as a client by default.

One TCP port carries both gRPC and the HTTP/JSON routes, over TLS keyed by
--token. A Unix socket serves local CLI calls without TLS or token.

Config file search order:
  /etc/wlsel/wlsel.toml
  $HOME/.config/wlsel/wlsel.toml
  path supplied via --config

Precedence (lowest → highest): defaults → config file → WLSEL_* env vars → flags`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runServer(v) },
	}

	f := cmd.Flags()
	f.String("addr", fmt.Sprintf("0.0.0.0:%d", defaultPort), "TCP listen address (empty = socket only)")
	f.String("socket", ipc.SocketPath(), "Unix socket path (empty = disabled)")
	f.String("token", "", "shared secret for auth and TLS key derivation (empty = no auth, default key)")
	f.Bool("no-host", false, "do not bridge the host's system clipboard")
	f.Duration("pipe-timeout", pipe.DefaultTimeout, "wait budget for each pipe poll")
	f.String("max-transfer", "64MiB", "largest payload accepted from a pipe or request")
	f.String("source", defaultSource(), "name the host clipboard client is known by")
	addLoggingFlags(cmd)
	addConfigFlag(cmd)

	return cmd
}

func runServer(v *viper.Viper) error {
	setupLogging(v)

	addr := v.GetString("addr")
	socket := v.GetString("socket")
	token := v.GetString("token")
	noHost := v.GetBool("no-host")
	source := v.GetString("source")

	maxTransfer, err := humanize.ParseBytes(v.GetString("max-transfer"))
	if err != nil {
		return fmt.Errorf("max-transfer: %w", err)
	}
	transport := pipe.Transport{
		Timeout: v.GetDuration("pipe-timeout"),
		MaxSize: int(maxTransfer),
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	comp := compositor.New(transport)
	svc := grpcservice.New(comp, token)
	defer svc.Close()

	// Room for the payload plus framing.
	msgLimit := int(maxTransfer) + 1<<20
	srv := grpc.NewServer(grpc.MaxRecvMsgSize(msgLimit), grpc.MaxSendMsgSize(msgLimit))
	grpcservice.Register(srv, svc)
	defer srv.Stop()

	slog.Info("wlsel server starting",
		"version", Version,
		"addr", addr,
		"host_clipboard", !noHost,
		"auth", token != "",
		"max_transfer", humanize.IBytes(maxTransfer),
		"pipe_timeout", transport.Timeout,
	)

	errc := make(chan error, 4)

	if socket != "" {
		ipcLn, err := ipc.Listen(socket)
		if err != nil {
			slog.Warn("IPC socket unavailable", "err", err)
		} else {
			slog.Info("IPC socket listening", "path", socket)
			go func() { errc <- fmt.Errorf("ipc: %w", srv.Serve(ipcLn)) }()
		}
	}

	if addr != "" {
		httpSrv, err := serveTCP(addr, token, srv, svc, int64(maxTransfer), errc)
		if err != nil {
			return err
		}
		defer func() {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
			defer cancel()
			_ = httpSrv.Shutdown(shutdownCtx)
		}()
	}

	if !noHost {
		lp := localpeer.New(comp, clip.New(), source, 5*time.Second)
		go func() {
			if err := lp.Run(ctx); err != nil {
				slog.Error("host clipboard bridge stopped", "err", err)
			}
		}()
	}

	select {
	case <-ctx.Done():
		slog.Info("shutting down")
		return nil
	case err := <-errc:
		return err
	}
}

// serveTCP starts the TLS listener on addr and splits it between gRPC and
// the HTTP gateway. The returned server is the gateway's, for shutdown.
func serveTCP(addr, token string, srv *grpc.Server, svc *grpcservice.Service, maxBody int64, errc chan<- error) (*http.Server, error) {
	passphrase := token
	if passphrase == "" {
		passphrase = tlsconf.DefaultPassphrase
	}
	creds, err := tlsconf.New(passphrase)
	if err != nil {
		return nil, err
	}

	mux := gwruntime.NewServeMux()
	if err := grpcservice.RegisterGateway(mux, svc, maxBody); err != nil {
		return nil, err
	}
	httpSrv := newHTTPGateway(mux)

	ln, err := net.Listen("tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("listen %s: %w", addr, err)
	}
	tlsLn := tls.NewListener(ln, creds.Server)
	slog.Info("listening", "addr", ln.Addr(), "tls_key", creds.Fingerprint())

	m := cmux.New(tlsLn)
	grpcLn := m.MatchWithWriters(cmux.HTTP2MatchHeaderFieldSendSettings("content-type", "application/grpc"))
	httpLn := m.Match(cmux.Any())

	go func() { errc <- fmt.Errorf("grpc: %w", srv.Serve(grpcLn)) }()
	go func() {
		if err := httpSrv.Serve(httpLn); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errc <- fmt.Errorf("http: %w", err)
		}
	}()
	go func() { errc <- fmt.Errorf("listener: %w", m.Serve()) }()

	return httpSrv, nil
}
