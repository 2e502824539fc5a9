// Command nooshdaroo-server runs the server side of a Nooshdaroo tunnel:
// it accepts tunnel connections, completes the cover+Noise handshake, reads
// the tunneled "CONNECT host:port" control message, dials the requested
// upstream, and relays.
package main

import (
	"context"
	"encoding/base64"
	"flag"
	"fmt"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	miekgdns "github.com/miekg/dns"

	"github.com/0xinf0/nooshdaroo/bandwidth"
	"github.com/0xinf0/nooshdaroo/config"
	"github.com/0xinf0/nooshdaroo/dnsudp"
	"github.com/0xinf0/nooshdaroo/internal/errors"
	"github.com/0xinf0/nooshdaroo/nasc"
	"github.com/0xinf0/nooshdaroo/nooshdaroo"
	"github.com/0xinf0/nooshdaroo/relay"
	"github.com/0xinf0/nooshdaroo/socks"
	"github.com/0xinf0/nooshdaroo/trafficshaper"
)

func main() {
	configPath := flag.String("config", "config.toml", "path to a nooshdaroo TOML config file")
	listenAddr := flag.String("listen", "0.0.0.0:8443", "NASC listen address")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Failed to start:", err)
		os.Exit(23)
	}

	server, err := nooshdaroo.NewServer(*cfg)
	if err != nil {
		fmt.Println("Failed to start:", err)
		os.Exit(23)
	}

	localStatic, err := loadLocalStatic(cfg.Noise.LocalPrivateKey)
	if err != nil {
		fmt.Println("Failed to start:", err)
		os.Exit(23)
	}

	initialProtocol := cfg.Shapeshift.InitialProtocol
	if initialProtocol == "" {
		ids := server.ProtocolIDs()
		if len(ids) == 0 {
			fmt.Println("Failed to start: protocol_dir contains no loadable PSF files")
			os.Exit(23)
		}
		initialProtocol = ids[0]
	}

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		fmt.Println("Failed to start:", err)
		os.Exit(23)
	}
	defer ln.Close()
	errors.LogInfo("nooshdaroo-server: listening on ", *listenAddr, ", cover protocol ", initialProtocol)

	ctx, cancel := context.WithCancel(context.Background())
	go acceptLoop(ctx, ln, server, cfg, initialProtocol, localStatic)

	var dnsSrv *miekgdns.Server
	var proxy *dnsudp.ConnectProxy
	if cfg.DNSFallback.Enabled {
		proxy = dnsudp.NewConnectProxy()
		dnsSrv = &miekgdns.Server{
			Addr:    orDefault(cfg.DNSFallback.Listen, ":53"),
			Net:     "udp",
			Handler: dnsudp.NewServer(cfg.DNSFallback.Hostname, proxy.Handle),
		}
		go func() {
			errors.LogInfo("nooshdaroo-server: dns fallback listening on ", dnsSrv.Addr)
			if err := dnsSrv.ListenAndServe(); err != nil {
				errors.LogError("nooshdaroo-server: dns fallback listener failed: ", err)
			}
		}()
	}

	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)
	<-osSignals
	cancel()
	if dnsSrv != nil {
		_ = dnsSrv.Shutdown()
		_ = proxy.Close()
	}
}

func acceptLoop(ctx context.Context, ln net.Listener, server *nooshdaroo.Server, cfg *config.NooshdarooConfig, protocolID string, localStatic nasc.KeyPair) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errors.LogWarning("nooshdaroo-server: accept failed: ", err)
			continue
		}
		go handleConn(ctx, conn, server, cfg, protocolID, localStatic)
	}
}

func handleConn(ctx context.Context, remote net.Conn, server *nooshdaroo.Server, cfg *config.NooshdarooConfig, protocolID string, localStatic nasc.KeyPair) {
	defer remote.Close()

	wrapper, err := server.Wrapper(protocolID, string(nasc.RoleServer))
	if err != nil {
		errors.LogWarning("nooshdaroo-server: resolving cover protocol failed: ", err)
		return
	}

	session, err := nasc.NewSession(nasc.Config{
		Pattern:     nasc.Pattern(orDefault(cfg.Noise.Pattern, "NK")),
		Initiator:   false,
		LocalStatic: localStatic,
	})
	if err != nil {
		errors.LogWarning("nooshdaroo-server: building noise session failed: ", err)
		return
	}

	bw := bandwidth.NewController(bandwidthConfig(cfg.Bandwidth))
	transport := nasc.NewTransport(nasc.TransportConfig{Conn: remote, Session: session, Role: nasc.RoleServer, Initiator: false, Monitor: bw})
	transport.SetWrapper(wrapper)

	if err := transport.Handshake(ctx); err != nil {
		errors.LogWarning("nooshdaroo-server: handshake failed: ", err)
		return
	}

	control, err := transport.Read(ctx)
	if err != nil {
		errors.LogWarning("nooshdaroo-server: reading CONNECT control message failed: ", err)
		return
	}
	target, ok := socks.DecodeConnect(control)
	if !ok {
		errors.LogWarning("nooshdaroo-server: first tunneled message was not a CONNECT control message")
		return
	}

	upstream, err := net.Dial("tcp", target)
	if err != nil {
		_ = transport.Write(ctx, socks.Error(err.Error()))
		errors.LogWarning("nooshdaroo-server: dialing upstream ", target, " failed: ", err)
		return
	}

	if err := transport.Write(ctx, socks.OK()); err != nil {
		upstream.Close()
		errors.LogWarning("nooshdaroo-server: acking CONNECT failed: ", err)
		return
	}

	r := relay.New(upstream, transport, buildPacing(cfg, bw))
	if err := r.Run(ctx); err != nil {
		errors.LogInfo("nooshdaroo-server: relay ", r.ID(), " for ", target, " ended: ", err)
	}
}

func loadLocalStatic(encoded string) (nasc.KeyPair, error) {
	if encoded == "" {
		return nasc.GenerateKeyPair()
	}
	priv, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nasc.KeyPair{}, errors.InvalidConfig("invalid noise.local_private_key: " + err.Error())
	}
	return nasc.KeyPairFromPrivate(priv)
}

// buildPacing assembles the relay's pacing capabilities around bw, the
// connection's bandwidth controller (already wired as the transport's
// Monitor). Quality probing runs regardless; the shaper and rate limiter
// engage only when traffic shaping is enabled.
func buildPacing(cfg *config.NooshdarooConfig, bw *bandwidth.Controller) *relay.Pacing {
	pacing := &relay.Pacing{Bandwidth: bw}
	if !cfg.TrafficShaping.Enabled {
		return pacing
	}
	profile, ok := trafficshaper.Catalog[cfg.TrafficShaping.ApplicationProfileName]
	if !ok {
		profile = trafficshaper.WebBrowsing
	}
	pacing.Shaper = trafficshaper.New(profile)
	pacing.Limiter = bw.RateLimiter()
	return pacing
}

// bandwidthConfig translates the TOML bandwidth section, including any
// tier_thresholds override rows, into a bandwidth.Config.
func bandwidthConfig(cfg config.BandwidthConfig) bandwidth.Config {
	out := bandwidth.Config{
		InitialRateBps:     int64(cfg.InitialRateBps),
		TierChangeCooldown: time.Duration(cfg.TierChangeCooldown) * time.Millisecond,
	}
	for _, row := range cfg.TierThresholds {
		tier, ok := bandwidth.TierByName(row.Name)
		if !ok {
			errors.LogWarning("nooshdaroo-server: ignoring unknown tier name ", row.Name)
			continue
		}
		out.TierThresholds = append(out.TierThresholds, bandwidth.Threshold{
			Tier:    tier,
			MaxRTT:  time.Duration(row.MaxRTT) * time.Millisecond,
			MaxLoss: row.MaxLoss,
		})
	}
	return out
}

func orDefault(v, def string) string {
	if v == "" {
		return def
	}
	return v
}
