package connpool

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"time"

	"github.com/sagernet/sing-box/adapter"
	"github.com/sagernet/sing-box/adapter/endpoint"
	"github.com/sagernet/sing-box/adapter/inbound"
	sbOutbound "github.com/sagernet/sing-box/adapter/outbound"
	"github.com/sagernet/sing-box/dns"
	"github.com/sagernet/sing-box/include"
	sbLog "github.com/sagernet/sing-box/log"
	"github.com/sagernet/sing-box/option"
	"github.com/sagernet/sing/common"
	sJson "github.com/sagernet/sing/common/json"
	M "github.com/sagernet/sing/common/metadata"
	"github.com/sagernet/sing/service"

	"github.com/Await-d/claude-relay-service-sub004/internal/account"
)

// Dialer opens outbound sockets for a pool entry's transport. Implementations
// may also implement io.Closer; closeDialer releases them on entry teardown.
type Dialer interface {
	DialContext(ctx context.Context, network, addr string) (net.Conn, error)
}

// DialerBuilder turns a proxy descriptor into a Dialer. A nil descriptor
// means a direct connection.
type DialerBuilder interface {
	Build(spec *account.ProxySpec) (Dialer, error)
}

func closeDialer(d Dialer) {
	if c, ok := d.(io.Closer); ok {
		_ = c.Close()
	}
}

// ---------------------------------------------------------------------------
// ProxyDialerBuilder — direct net.Dialer plus sing-box-backed proxy dialers.
// ---------------------------------------------------------------------------

// ProxyDialerBuilder builds dialers for pool entries: a keep-alive net.Dialer
// for direct targets, and sing-box outbound adapters for SOCKS5/HTTP(S)
// proxy descriptors. It holds a fully-wired sing-box context with DNS
// services so that domain-form proxy servers can be resolved.
type ProxyDialerBuilder struct {
	connectTimeout time.Duration

	registry            *sbOutbound.Registry
	ctx                 context.Context
	logFactory          sbLog.Factory
	dnsTransportManager *dns.TransportManager
	dnsRouter           *dns.Router
}

// NewProxyDialerBuilder creates a ProxyDialerBuilder with a complete sing-box
// service graph (registries + DNS). The caller must call Close() when done.
func NewProxyDialerBuilder(connectTimeout time.Duration) (*ProxyDialerBuilder, error) {
	ctx := context.Background()
	ctx = include.Context(ctx) // inject protocol registries

	logFactory := sbLog.NewNOPFactory()
	logger := logFactory.NewLogger("connpool")

	endpointMgr := endpoint.NewManager(logger, service.FromContext[adapter.EndpointRegistry](ctx))
	service.MustRegister[adapter.EndpointManager](ctx, endpointMgr)

	// Inbound manager is a required dependency even though unused.
	inboundMgr := inbound.NewManager(logger, service.FromContext[adapter.InboundRegistry](ctx), endpointMgr)
	service.MustRegister[adapter.InboundManager](ctx, inboundMgr)

	outboundMgr := sbOutbound.NewManager(logger, service.FromContext[adapter.OutboundRegistry](ctx), endpointMgr, "")
	service.MustRegister[adapter.OutboundManager](ctx, outboundMgr)

	dnsTransportMgr := dns.NewTransportManager(logger, service.FromContext[adapter.DNSTransportRegistry](ctx), outboundMgr, "")
	service.MustRegister[adapter.DNSTransportManager](ctx, dnsTransportMgr)

	dnsRouter := dns.NewRouter(ctx, logFactory, option.DNSOptions{})
	service.MustRegister[adapter.DNSRouter](ctx, dnsRouter)

	if err := dnsTransportMgr.Create(ctx, logger, "local", "local", &option.LocalDNSServerOptions{}); err != nil {
		return nil, fmt.Errorf("dialer builder: create local DNS transport: %w", err)
	}
	if err := dnsTransportMgr.Start(adapter.StartStateInitialize); err != nil {
		return nil, fmt.Errorf("dialer builder: initialize DNS transport manager: %w", err)
	}
	if err := dnsTransportMgr.Start(adapter.StartStateStart); err != nil {
		_ = dnsTransportMgr.Close()
		return nil, fmt.Errorf("dialer builder: start DNS transport manager: %w", err)
	}
	if err := dnsRouter.Initialize(nil); err != nil {
		_ = dnsTransportMgr.Close()
		return nil, fmt.Errorf("dialer builder: initialize DNS router: %w", err)
	}
	if err := dnsRouter.Start(adapter.StartStateStart); err != nil {
		_ = dnsRouter.Close()
		_ = dnsTransportMgr.Close()
		return nil, fmt.Errorf("dialer builder: start DNS router: %w", err)
	}

	registry := service.FromContext[adapter.OutboundRegistry](ctx).(*sbOutbound.Registry)

	return &ProxyDialerBuilder{
		connectTimeout:      connectTimeout,
		registry:            registry,
		ctx:                 ctx,
		logFactory:          logFactory,
		dnsTransportManager: dnsTransportMgr,
		dnsRouter:           dnsRouter,
	}, nil
}

// Build returns a Dialer for the given proxy descriptor. A nil descriptor
// yields a direct keep-alive dialer.
func (b *ProxyDialerBuilder) Build(spec *account.ProxySpec) (Dialer, error) {
	if spec == nil {
		return &net.Dialer{
			Timeout:   b.connectTimeout,
			KeepAlive: 30 * time.Second,
		}, nil
	}
	if err := spec.Validate(); err != nil {
		return nil, err
	}

	rawOptions, err := proxyOutboundOptions(spec)
	if err != nil {
		return nil, err
	}

	// Parse via the official option.Outbound path (strips type/tag, creates
	// typed options via the outbound options registry).
	var outboundConfig option.Outbound
	if err := sJson.UnmarshalContext(b.ctx, rawOptions, &outboundConfig); err != nil {
		return nil, fmt.Errorf("parse proxy options: %w", err)
	}

	logger := b.logFactory.NewLogger("outbound/" + outboundConfig.Type)
	ob, err := b.registry.CreateOutbound(
		b.ctx,
		nil, // router — not needed for plain dialing
		logger,
		outboundConfig.Tag,
		outboundConfig.Type,
		outboundConfig.Options,
	)
	if err != nil {
		return nil, fmt.Errorf("create proxy outbound [%s]: %w", outboundConfig.Type, err)
	}

	for _, stage := range adapter.ListStartStages {
		if err := adapter.LegacyStart(ob, stage); err != nil {
			_ = common.Close(ob)
			return nil, fmt.Errorf("proxy outbound start %s [%s]: %w", stage, outboundConfig.Type, err)
		}
	}

	return &outboundDialer{ob: ob}, nil
}

// Close shuts down the builder's internal DNS services.
func (b *ProxyDialerBuilder) Close() error {
	var errs []error
	if b.dnsRouter != nil {
		errs = append(errs, b.dnsRouter.Close())
	}
	if b.dnsTransportManager != nil {
		errs = append(errs, b.dnsTransportManager.Close())
	}
	return errors.Join(errs...)
}

// proxyOutboundOptions maps a ProxySpec onto a sing-box outbound JSON object.
func proxyOutboundOptions(spec *account.ProxySpec) (json.RawMessage, error) {
	opts := map[string]any{
		"tag":         "pool-proxy",
		"server":      spec.Host,
		"server_port": spec.Port,
	}
	if spec.Username != "" {
		opts["username"] = spec.Username
		opts["password"] = spec.Password
	}
	switch spec.Scheme {
	case "socks5":
		opts["type"] = "socks"
		opts["version"] = "5"
	case "http":
		opts["type"] = "http"
	case "https":
		opts["type"] = "http"
		opts["tls"] = map[string]any{"enabled": true, "server_name": spec.Host}
	default:
		return nil, fmt.Errorf("proxy: unsupported scheme %q", spec.Scheme)
	}
	return json.Marshal(opts)
}

// outboundDialer adapts a sing-box adapter.Outbound to the Dialer interface.
type outboundDialer struct {
	ob adapter.Outbound
}

func (d *outboundDialer) DialContext(ctx context.Context, network, addr string) (net.Conn, error) {
	return d.ob.DialContext(ctx, network, M.ParseSocksaddr(addr))
}

func (d *outboundDialer) Close() error {
	return common.Close(d.ob)
}
