package config

import (
	"fmt"
	"time"

	"github.com/spf13/pflag"
)

type BrokerConfig struct {
	Broker Broker
	Store  Store
	Events Events
}

type Broker struct {
	Debug      bool
	NoColor    bool
	Server     Server
	Monitoring Monitoring
	AccessCode AccessCode
	Chat       Chat
	Signaling  Signaling
	Socket     Socket
	// Origin is the allowed websocket origin, empty allows any.
	Origin string
}

type Server struct {
	Address  string `default:":8000"`
	Https    bool
	PortRoll bool
	Tls      struct {
		Address   string `default:":443"`
		Domain    string
		HttpsKey  string
		HttpsCert string
		// CertCache keeps the autocert certificates.
		CertCache string `default:"certs"`
	}
}

func (s *Server) GetAddr() string {
	if s.Https {
		return s.Tls.Address
	}
	return s.Address
}

type Monitoring struct {
	Port             int `default:"6601"`
	URLPrefix        string
	MetricEnabled    bool `fig:"metric_enabled"`
	ProfilingEnabled bool `fig:"profiling_enabled"`
}

func (c *Monitoring) IsEnabled() bool { return c.MetricEnabled || c.ProfilingEnabled }

type AccessCode struct {
	TTL time.Duration `default:"10m"`
	// SweepInterval sets how often expired codes are pruned in the background,
	// zero or negative disables the janitor (expiry is always checked lazily).
	SweepInterval time.Duration `default:"1m"`
}

type Chat struct {
	MaxText int `default:"4000"`
}

// Unattached as the signaling default role keeps undeclared sockets out of the relay.
const Unattached = "none"

type Signaling struct {
	// DefaultRole is the slot a signaling socket holds before it declares its role.
	DefaultRole string `default:"client"`
}

type Socket struct {
	QueueSize      int           `default:"64"`
	MaxMessageSize int64         `default:"65536"`
	PingInterval   time.Duration `default:"54s"`
	WriteWait      time.Duration `default:"10s"`
}

type Store struct {
	Path string `default:"csremote.db"`
}

type Events struct {
	NatsUrl string
}

type flags struct {
	path      string
	address   string
	debug     bool
	db        string
	nats      string
	monPort   int
	role      string
	portRolls bool
}

// NewBrokerConfig parses command-line arguments and loads the config
// with flag values taking precedence over file and env values.
func NewBrokerConfig(args []string) (conf BrokerConfig, path string, err error) {
	fs := pflag.NewFlagSet("broker", pflag.ContinueOnError)
	var f flags
	fs.StringVar(&f.path, "c-conf", "", "Set custom configuration file path")
	fs.StringVar(&f.address, "address", "", "HTTP server address (host:port)")
	fs.BoolVarP(&f.debug, "debug", "d", false, "Enable debug logging")
	fs.StringVar(&f.db, "db", "", "SQLite database file")
	fs.StringVar(&f.nats, "nats", "", "NATS server URL for audit events")
	fs.IntVar(&f.monPort, "monitoring.port", 0, "Monitoring server port")
	fs.StringVar(&f.role, "signaling.role", "", "Placeholder role of undeclared signaling sockets")
	fs.BoolVar(&f.portRolls, "portRoll", false, "Try next ports when the address is busy")
	if err = fs.Parse(args); err != nil {
		return conf, "", err
	}

	if path, err = LoadConfig(&conf, f.path); err != nil {
		return conf, path, fmt.Errorf("config: %w", err)
	}

	if fs.Changed("address") {
		conf.Broker.Server.Address = f.address
	}
	if fs.Changed("debug") {
		conf.Broker.Debug = f.debug
	}
	if fs.Changed("db") {
		conf.Store.Path = f.db
	}
	if fs.Changed("nats") {
		conf.Events.NatsUrl = f.nats
	}
	if fs.Changed("monitoring.port") {
		conf.Broker.Monitoring.Port = f.monPort
	}
	if fs.Changed("signaling.role") {
		conf.Broker.Signaling.DefaultRole = f.role
	}
	if fs.Changed("portRoll") {
		conf.Broker.Server.PortRoll = f.portRolls
	}
	return conf, path, nil
}
