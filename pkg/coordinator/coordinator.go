package coordinator

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/csremote/broker/pkg/accesscode"
	"github.com/csremote/broker/pkg/config"
	"github.com/csremote/broker/pkg/events"
	"github.com/csremote/broker/pkg/logger"
	"github.com/csremote/broker/pkg/monitoring"
	"github.com/csremote/broker/pkg/network/httpx"
	"github.com/csremote/broker/pkg/network/websocket"
	"github.com/csremote/broker/pkg/service"
	"github.com/csremote/broker/pkg/session"
	"github.com/csremote/broker/pkg/store"
)

// Coordinator runs the broker: the hub behind an HTTP server, the code
// janitor and the monitoring server, all backed by one database.
type Coordinator struct {
	services service.Group
	hub      *Hub
	server   *httpx.Server
	store    *store.Store
	events   events.Publisher
	log      *logger.Logger
}

func New(conf config.BrokerConfig, log *logger.Logger) (*Coordinator, error) {
	opts, err := hubOptions(conf.Broker)
	if err != nil {
		return nil, err
	}

	db, err := store.Open(conf.Store.Path)
	if err != nil {
		return nil, fmt.Errorf("store: %w", err)
	}

	var pub events.Publisher = events.NewLogPublisher(log)
	if conf.Events.NatsUrl != "" {
		nats, err := events.NewNATSPublisher(conf.Events.NatsUrl)
		if err != nil {
			_ = db.Close()
			return nil, err
		}
		pub = nats
	}

	codes := accesscode.NewStore(accesscode.WithTTL(conf.Broker.AccessCode.TTL))
	hub := NewHub(Deps{
		Directory: db,
		Sink:      db,
		Starter:   db,
		History:   db,
		Codes:     codes,
		Events:    pub,
	}, opts, log)

	c := &Coordinator{hub: hub, store: db, events: pub, log: log}

	server, err := httpx.NewServer(
		conf.Broker.Server.GetAddr(),
		hub.Routes(),
		httpx.WithServerConfig(conf.Broker.Server),
		httpx.WithLogger(log),
	)
	if err != nil {
		c.close()
		return nil, fmt.Errorf("http server: %w", err)
	}
	c.server = server

	// shutdown goes in reverse: server first, hub sockets last
	c.services.Add(hub, accesscode.NewJanitor(codes, conf.Broker.AccessCode.SweepInterval, log))
	if conf.Broker.Monitoring.IsEnabled() {
		mon, err := monitoring.New(conf.Broker.Monitoring, "mon", log)
		if err != nil {
			_ = server.Shutdown(context.Background())
			c.close()
			return nil, fmt.Errorf("monitoring: %w", err)
		}
		c.services.Add(mon)
	}
	c.services.Add(server)
	return c, nil
}

func hubOptions(conf config.Broker) (Options, error) {
	opts := Options{
		Socket: websocket.Options{
			QueueSize:      conf.Socket.QueueSize,
			MaxMessageSize: conf.Socket.MaxMessageSize,
			PingInterval:   conf.Socket.PingInterval,
			WriteWait:      conf.Socket.WriteWait,
			Origin:         conf.Origin,
		},
		MaxText: conf.Chat.MaxText,
	}
	if r := conf.Signaling.DefaultRole; r != "" && !strings.EqualFold(r, config.Unattached) {
		role, err := session.ParseRole(conf.Signaling.DefaultRole)
		if err != nil {
			return opts, fmt.Errorf("signaling default role %q: %w", conf.Signaling.DefaultRole, err)
		}
		opts.DefaultRole = role
	}
	return opts, nil
}

// Addr is the address the HTTP server listens on.
func (c *Coordinator) Addr() string { return c.server.Addr }

// Port is the actual HTTP port.
func (c *Coordinator) Port() int { return c.server.Port() }

func (c *Coordinator) Start() {
	c.log.Info().Msgf("broker %v://%v", c.server.Protocol(), c.server.Addr)
	c.services.Start()
}

func (c *Coordinator) Shutdown(ctx context.Context) error {
	err := c.services.Shutdown(ctx)
	return errors.Join(err, c.close())
}

func (c *Coordinator) close() error {
	return errors.Join(c.events.Close(), c.store.Close())
}
