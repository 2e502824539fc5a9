// Command nooshdaroo-client runs the SOCKS5-fronted client side of a
// Nooshdaroo tunnel: it accepts local SOCKS5 connections and relays each
// through an encrypted, cover-wrapped channel to a nooshdaroo-server.
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
	listenAddr := flag.String("listen", "127.0.0.1:1080", "SOCKS5 listen address")
	serverAddr := flag.String("server", "", "remote nooshdaroo-server address (host:port)")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		fmt.Println("Failed to start:", err)
		os.Exit(23)
	}

	if *serverAddr == "" && !cfg.DNSFallback.Enabled {
		fmt.Println("Failed to start: -server is required unless dns_fallback is enabled")
		os.Exit(23)
	}

	client, err := nooshdaroo.NewClient(*cfg)
	if err != nil {
		fmt.Println("Failed to start:", err)
		os.Exit(23)
	}

	remoteStatic, err := base64.StdEncoding.DecodeString(cfg.Noise.RemotePublicKey)
	if err != nil {
		fmt.Println("Failed to start: invalid noise.remote_public_key:", err)
		os.Exit(23)
	}

	ln, err := net.Listen("tcp", *listenAddr)
	if err != nil {
		fmt.Println("Failed to start:", err)
		os.Exit(23)
	}
	defer ln.Close()
	errors.LogInfo("nooshdaroo-client: listening on ", *listenAddr, ", relaying to ", *serverAddr)

	ctx, cancel := context.WithCancel(context.Background())
	go acceptLoop(ctx, ln, client, cfg, *serverAddr, remoteStatic)

	osSignals := make(chan os.Signal, 1)
	signal.Notify(osSignals, os.Interrupt, syscall.SIGTERM)
	<-osSignals
	cancel()
	_ = client.Close()
}

func acceptLoop(ctx context.Context, ln net.Listener, client *nooshdaroo.Client, cfg *config.NooshdarooConfig, serverAddr string, remoteStatic []byte) {
	for {
		conn, err := ln.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			errors.LogWarning("nooshdaroo-client: accept failed: ", err)
			continue
		}
		go handleConn(ctx, conn, client, cfg, serverAddr, remoteStatic)
	}
}

func handleConn(ctx context.Context, local net.Conn, client *nooshdaroo.Client, cfg *config.NooshdarooConfig, serverAddr string, remoteStatic []byte) {
	defer local.Close()

	target, err := socks.Handshake(local)
	if err != nil {
		errors.LogWarning("nooshdaroo-client: socks handshake failed: ", err)
		return
	}

	if cfg.DNSFallback.Enabled {
		relayOverDNS(local, cfg, target)
		return
	}

	remote, err := net.Dial("tcp", serverAddr)
	if err != nil {
		_ = socks.ReplyFailure(local)
		errors.LogWarning("nooshdaroo-client: dialing server failed: ", err)
		return
	}

	session, err := nasc.NewSession(nasc.Config{
		Pattern:      nasc.Pattern(orDefault(cfg.Noise.Pattern, "NK")),
		Initiator:    true,
		RemoteStatic: remoteStatic,
	})
	if err != nil {
		remote.Close()
		_ = socks.ReplyFailure(local)
		errors.LogWarning("nooshdaroo-client: building noise session failed: ", err)
		return
	}

	bw := bandwidth.NewController(bandwidthConfig(cfg.Bandwidth))
	transport := nasc.NewTransport(nasc.TransportConfig{Conn: remote, Session: session, Role: nasc.RoleClient, Initiator: true, Monitor: bw})
	if err := client.BindTransport(transport, nasc.RoleClient); err != nil {
		remote.Close()
		_ = socks.ReplyFailure(local)
		errors.LogWarning("nooshdaroo-client: binding shapeshift controller failed: ", err)
		return
	}

	if err := client.Handshake(ctx, transport); err != nil {
		remote.Close()
		_ = socks.ReplyFailure(local)
		errors.LogWarning("nooshdaroo-client: handshake failed: ", err)
		return
	}

	if err := transport.Write(ctx, socks.EncodeConnect(target)); err != nil {
		errors.LogWarning("nooshdaroo-client: sending CONNECT failed: ", err)
		return
	}
	ack, err := transport.Read(ctx)
	if err != nil {
		errors.LogWarning("nooshdaroo-client: reading CONNECT ack failed: ", err)
		return
	}
	if len(ack) < 2 || string(ack[:2]) != "OK" {
		_ = socks.ReplyFailure(local)
		errors.LogWarning("nooshdaroo-client: server refused CONNECT: ", string(ack))
		return
	}
	if err := socks.ReplySuccess(local); err != nil {
		errors.LogWarning("nooshdaroo-client: replying to socks client failed: ", err)
		return
	}

	r := relay.New(local, transport, buildPacing(cfg, bw))
	if err := r.Run(ctx); err != nil {
		errors.LogInfo("nooshdaroo-client: relay ", r.ID(), " ended: ", err)
	}
}

// relayOverDNS carries the accepted SOCKS connection over the DNS-UDP
// fallback tunnel instead of the encrypted stream: a CONNECT control
// exchange first, then one send-and-receive round per local chunk, with
// empty polls while the application is quiet so downstream-only traffic
// still flows.
func relayOverDNS(local net.Conn, cfg *config.NooshdarooConfig, target string) {
	tun := dnsudp.NewTunnel(cfg.DNSFallback.Resolver, cfg.DNSFallback.Hostname)
	sid := dnsudp.NewSessionID()

	ack, err := tun.SendAndReceive(sid, socks.EncodeConnect(target))
	if err != nil || len(ack) < 2 || string(ack[:2]) != "OK" {
		_ = socks.ReplyFailure(local)
		errors.LogWarning("nooshdaroo-client: dns fallback CONNECT to ", target, " refused: ", string(ack), " ", err)
		return
	}
	if err := socks.ReplySuccess(local); err != nil {
		return
	}

	buf := make([]byte, 400)
	for {
		_ = local.SetReadDeadline(time.Now().Add(500 * time.Millisecond))
		n, readErr := local.Read(buf)
		timedOut := false
		if readErr != nil {
			ne, ok := readErr.(net.Error)
			timedOut = ok && ne.Timeout()
		}

		// A read timeout with nothing buffered still sends an empty poll so
		// downstream-only traffic keeps flowing; a final chunk read together
		// with EOF is flushed before giving up.
		resp, err := tun.SendAndReceive(sid, buf[:n])
		if err != nil {
			errors.LogWarning("nooshdaroo-client: dns fallback exchange failed: ", err)
			return
		}
		if len(resp) > 0 {
			if _, err := local.Write(resp); err != nil {
				return
			}
		}
		if readErr != nil && !timedOut {
			return
		}
	}
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
			errors.LogWarning("nooshdaroo-client: ignoring unknown tier name ", row.Name)
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
