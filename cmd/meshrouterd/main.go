// Command meshrouterd runs the mesh routing engine as a standalone daemon,
// wiring it to a TUN sink and crypto provider supplied by the surrounding
// node software.
package main

import (
	"context"
	"encoding/hex"
	"flag"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"net/netip"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lmittmann/tint"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/nyxmesh/meshrouter/internal/babel"
	"github.com/nyxmesh/meshrouter/internal/config"
	"github.com/nyxmesh/meshrouter/internal/cryptocollab"
	"github.com/nyxmesh/meshrouter/internal/router"
	"github.com/nyxmesh/meshrouter/internal/routerid"
	"github.com/nyxmesh/meshrouter/internal/subnet"
)

var (
	verbose       = flag.Bool("v", false, "enable debug logging")
	jsonLogs      = flag.Bool("json-logs", false, "emit structured JSON logs instead of console-formatted ones")
	metricsEnable = flag.Bool("metrics-enable", false, "enable prometheus metrics")
	metricsAddr   = flag.String("metrics-addr", "localhost:0", "address to listen on for prometheus metrics")
	publicKeyHex  = flag.String("public-key", "", "this node's hex-encoded public key")
	tunSubnetFlag = flag.String("tun-subnet", "", "this node's overlay /64, e.g. fd00:1::/64")
	staticRoutes  = flag.String("static-routes", "", "comma-separated list of subnets this node owns and advertises as static routes, e.g. fd00:2::/64,fd00:3::/64")

	version = "dev"
	commit  = "none"
)

func main() {
	flag.Parse()

	logger := newLogger(*verbose, *jsonLogs)
	slog.SetDefault(logger)

	if *metricsEnable {
		buildInfo := promauto.NewGaugeVec(prometheus.GaugeOpts{
			Name: "meshrouter_build_info",
			Help: "Build information of the router daemon.",
		}, []string{"version", "commit"})
		buildInfo.WithLabelValues(version, commit).Set(1)

		go func() {
			listener, err := net.Listen("tcp", *metricsAddr)
			if err != nil {
				logger.Error("failed to start prometheus metrics listener", "error", err)
				os.Exit(1)
			}
			mux := http.NewServeMux()
			mux.Handle("/metrics", promhttp.Handler())
			logger.Info("prometheus metrics server started", "address", listener.Addr().String())
			if err := http.Serve(listener, mux); err != nil {
				logger.Error("prometheus metrics server stopped", "error", err)
			}
		}()
	}

	pk, err := parsePublicKey(*publicKeyHex)
	if err != nil {
		logger.Error("invalid -public-key", "error", err)
		os.Exit(1)
	}

	tunSubnet, err := parseTunSubnet(*tunSubnetFlag)
	if err != nil {
		logger.Error("invalid -tun-subnet", "error", err)
		os.Exit(1)
	}

	statics, err := parseStaticRoutes(*staticRoutes)
	if err != nil {
		logger.Error("invalid -static-routes", "error", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	r := router.New(pk, tunSubnet, noopCrypto{}, noopTun{},
		router.WithLogger(logger),
		router.WithConfig(config.Default()),
		router.WithMetricsRegisterer(prometheus.DefaultRegisterer),
		router.WithStaticRoutes(statics...),
	)

	logger.Info("meshrouter starting", "router_id", routerid.FromPublicKey(pk).String(), "tun_subnet", tunSubnet.String())
	if err := r.Run(ctx); err != nil {
		logger.Error("router exited with error", "error", err)
		os.Exit(1)
	}
}

func newLogger(verbose, json bool) *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if json {
		return slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: level}))
	}
	return slog.New(tint.NewHandler(os.Stdout, &tint.Options{
		Level:      level,
		TimeFormat: time.Kitchen,
	}))
}

func parsePublicKey(s string) (routerid.PublicKey, error) {
	var pk routerid.PublicKey
	if len(s) != len(pk)*2 {
		return pk, fmt.Errorf("expected %d hex characters, got %d", len(pk)*2, len(s))
	}
	decoded, err := hex.DecodeString(s)
	if err != nil {
		return pk, err
	}
	copy(pk[:], decoded)
	return pk, nil
}

func parseStaticRoutes(s string) ([]subnet.Subnet, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	routes := make([]subnet.Subnet, 0, len(parts))
	for _, part := range parts {
		sn, err := parseTunSubnet(strings.TrimSpace(part))
		if err != nil {
			return nil, fmt.Errorf("%q: %w", part, err)
		}
		routes = append(routes, sn)
	}
	return routes, nil
}

func parseTunSubnet(s string) (subnet.Subnet, error) {
	var sn subnet.Subnet
	if s == "" {
		return sn, fmt.Errorf("must not be empty")
	}
	p, err := netip.ParsePrefix(s)
	if err != nil {
		return sn, err
	}
	return subnet.FromPrefix(p)
}

// noopCrypto and noopTun are placeholders for the collaborators a real
// deployment supplies from outside this module (spec.md Non-goals).
type noopCrypto struct{}

func (noopCrypto) SharedSecret(routerid.PublicKey) (cryptocollab.SharedSecret, error) {
	return cryptocollab.SharedSecret{}, fmt.Errorf("meshrouterd: no crypto provider wired")
}

type noopTun struct{}

func (noopTun) DeliverDataPacket(pkt babel.DataPacket) error { return nil }
