// Command lwm2mcarrier is the client process entrypoint: load config, wire
// the object registry and transport stack, and run one lifecycle context
// per configured server until signalled to stop.
//
// Wiring shape (config -> logging -> components -> signal-driven
// shutdown) follows glennswest-ipmiserial/main.go.
package main

import (
	"context"
	"flag"
	"net"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/sirupsen/logrus"

	"github.com/nordic-iot/lwm2m-carrier/internal/acl"
	"github.com/nordic-iot/lwm2m-carrier/internal/attributes"
	"github.com/nordic-iot/lwm2m-carrier/internal/config"
	"github.com/nordic-iot/lwm2m-carrier/internal/kv"
	"github.com/nordic-iot/lwm2m-carrier/internal/lifecycle"
	"github.com/nordic-iot/lwm2m-carrier/internal/logging"
	"github.com/nordic-iot/lwm2m-carrier/internal/metrics"
	"github.com/nordic-iot/lwm2m-carrier/internal/modemoracle"
	"github.com/nordic-iot/lwm2m-carrier/internal/objects"
	"github.com/nordic-iot/lwm2m-carrier/internal/observe"
	"github.com/nordic-iot/lwm2m-carrier/internal/registry"
	"github.com/nordic-iot/lwm2m-carrier/internal/statusapi"
	"github.com/nordic-iot/lwm2m-carrier/internal/transport"
)

var Version = "0.1.0"

func main() {
	configPath := flag.String("config", "config.yaml", "Path to config file")
	flag.Parse()

	cfg, err := config.Load(*configPath)
	if err != nil {
		logrus.Fatalf("failed to load config: %v", err)
	}

	log, err := logging.New(cfg.LogLevel, cfg.LogPath)
	if err != nil {
		logrus.Fatalf("failed to init logging: %v", err)
	}
	log.Infof("starting lwm2mcarrier v%s endpoint=%s", Version, cfg.Endpoint.Name)

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		log.WithError(err).Warn("metrics already registered")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Info("shutting down")
		cancel()
	}()

	store, err := kv.NewFileStore(cfg.DataDir)
	if err != nil {
		log.Fatalf("failed to open data dir: %v", err)
	}
	observerStore := observe.NewStore()
	attrsEngine := attributes.New(time.Duration(cfg.Transport.CoAPConIntervalS) * time.Second)

	identity := modemoracle.Identity{
		EndpointName: cfg.Endpoint.Name,
		IMEI:         cfg.Endpoint.IMEI,
		IMSI:         cfg.Endpoint.IMSI,
		ICCID:        cfg.Endpoint.ICCID,
	}
	oracle := modemoracle.NewSimulated(identity, nil)

	reg := registry.New()

	security := objects.NewSecurity()
	if cfg.Bootstrap.URI != "" {
		security.AddInstance(0, objects.SecurityInstance{
			URI:         cfg.Bootstrap.URI,
			IsBootstrap: true,
			HoldOffS:    cfg.Bootstrap.HoldOffS,
		})
	}
	server := objects.NewServer()
	accessControl := objects.NewAccessControl()
	defaultOwner := acl.DefaultShortServerID
	for _, s := range cfg.Servers {
		security.AddInstance(s.ShortServerID, objects.SecurityInstance{
			ShortServerID: s.ShortServerID,
			URI:           s.URI,
		})
		server.AddInstance(s.ShortServerID, objects.ServerInstance{
			ShortServerID:   s.ShortServerID,
			LifetimeS:       s.LifetimeS,
			DisableTimeoutS: s.DisableTimeoutS,
			Binding:         s.Binding,
		}, s.ShortServerID)
		if len(cfg.Servers) == 1 {
			defaultOwner = s.ShortServerID
		}
	}

	device := objects.NewDevice(defaultOwner)
	device.OnReboot = func() error {
		log.Warn("reboot requested by server; no-op in this client")
		return nil
	}
	device.OnFactoryReset = func() error {
		log.Warn("factory reset requested")
		return store.Delete(observe.PersistKey)
	}

	connectivity := objects.NewConnectivity(defaultOwner, func() objects.Telemetry {
		return objects.Telemetry{}
	})
	firmware := objects.NewFirmware(defaultOwner)
	connStats := objects.NewConnectivityStats(defaultOwner)

	reg.Register(security)
	reg.Register(server)
	reg.Register(accessControl)
	reg.Register(device)
	reg.Register(connectivity)
	reg.Register(firmware)
	reg.Register(connStats)

	reg.SetObserverStore(observerStore)
	reg.SetAttributeEngine(attrsEngine)

	manager := lifecycle.NewManager()
	reg.BootstrapFinish = manager.SignalBootstrapFinish

	server.OnDisable = func(ssid uint16) {
		if c, ok := manager.Get(ssid); ok {
			go c.Deregister(ctx)
		}
	}
	server.OnUpdateTrigger = func(ssid uint16) {
		log.WithField("ssid", ssid).Debug("update trigger received")
	}

	events := func(ev lifecycle.Event) {
		log.WithFields(logrus.Fields{"ssid": ev.ShortServerID, "event": ev.Type, "data": ev.Data}).Info("lifecycle event")
	}

	dialFor := func(uri string, ssid uint16, mtu, retransmitCap int, dontFragment bool) func(context.Context) (*transport.Engine, error) {
		return func(ctx context.Context) (*transport.Engine, error) {
			conn, err := oracle.ResolveAndDial(ctx, "udp", uri)
			if err != nil {
				return nil, err
			}
			_ = transport.TuneSocket(conn, dontFragment)
			entry := logging.Context(log, ssid, "")
			eng := transport.New(entry, conn, mtu, retransmitCap)
			eng.RegisterRequestHandler(func(ctx context.Context, req *transport.Message, peer net.Addr) *transport.Message {
				return reg.Dispatch(ctx, req, ssid, peer)
			})
			go runConn(ctx, eng, conn)
			return eng, nil
		}
	}

	if cfg.Bootstrap.URI != "" {
		bctx := lifecycle.NewContext(lifecycle.Config{
			ShortServerID: acl.BootstrapShortServerID,
			IsBootstrap:   true,
			URI:           cfg.Bootstrap.URI,
			EndpointName:  cfg.Endpoint.Name,
			HoldOffS:      cfg.Bootstrap.HoldOffS,
			MSISDN:        cfg.Endpoint.MSISDN,
		}, log, reg, observerStore, attrsEngine, store, oracle, manager.Semaphores(), events)
		bctx.SetBootstrapCompleteHook(func() { security.CompleteBootstrap() })
		manager.Add(bctx)
		go bctx.Run(ctx, dialFor(cfg.Bootstrap.URI, acl.BootstrapShortServerID, cfg.Transport.MTU, cfg.Transport.RetransmitCap, cfg.Transport.DontFragment))
	}

	for _, s := range cfg.Servers {
		c := lifecycle.NewContext(lifecycle.Config{
			ShortServerID:   s.ShortServerID,
			URI:             s.URI,
			LifetimeS:       s.LifetimeS,
			DisableTimeoutS: s.DisableTimeoutS,
			Binding:         s.Binding,
			EndpointName:    cfg.Endpoint.Name,
			MSISDN:          cfg.Endpoint.MSISDN,
		}, log, reg, observerStore, attrsEngine, store, oracle, manager.Semaphores(), events)
		manager.Add(c)
		go c.Run(ctx, dialFor(s.URI, s.ShortServerID, cfg.Transport.MTU, cfg.Transport.RetransmitCap, cfg.Transport.DontFragment))
	}

	if cfg.DebugServer.Enabled {
		api := statusapi.New(cfg.DebugServer.Port, log, manager, reg)
		go func() {
			if err := api.Run(ctx); err != nil {
				log.WithError(err).Error("status api exited")
			}
		}()
	}

	<-ctx.Done()
}

// runConn drives one engine's read loop and retransmit ticker until its
// dial-scoped context is cancelled (a fresh one is created per
// lifecycle.Context.runOnce iteration).
func runConn(ctx context.Context, eng *transport.Engine, conn net.Conn) {
	ticker := time.NewTicker(500 * time.Millisecond)
	defer ticker.Stop()

	go func() {
		buf := make([]byte, 2048)
		for {
			n, err := conn.Read(buf)
			if err != nil {
				return
			}
			eng.OnDatagram(ctx, buf[:n], conn.RemoteAddr())
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case now := <-ticker.C:
			eng.RunRetransmitTimer(now)
		}
	}
}
