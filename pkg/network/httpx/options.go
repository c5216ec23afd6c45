package httpx

import (
	"time"

	"github.com/csremote/broker/pkg/config"
	"github.com/csremote/broker/pkg/logger"
)

type (
	Options struct {
		Https bool
		// HttpsRedirect serves a plain HTTP redirect to the TLS port
		// on HttpsRedirectAddress.
		HttpsRedirect        bool
		HttpsRedirectAddress string
		HttpsCert            string
		HttpsKey             string
		HttpsDomain          string
		// CertCache is the directory of ACME certificates.
		CertCache    string
		PortRoll     bool
		IdleTimeout  time.Duration
		ReadTimeout  time.Duration
		WriteTimeout time.Duration
		Logger       *logger.Logger
	}
	Option func(*Options)
)

func (o *Options) override(options ...Option) {
	for _, opt := range options {
		opt(o)
	}
}

// IsAutoHttpsCert is true unless both the certificate and the key files are set.
func (o *Options) IsAutoHttpsCert() bool { return o.HttpsCert == "" || o.HttpsKey == "" }

func WithLogger(log *logger.Logger) Option { return func(opts *Options) { opts.Logger = log } }

func WithServerConfig(conf config.Server) Option {
	return func(opts *Options) {
		opts.Https = conf.Https
		opts.HttpsCert = conf.Tls.HttpsCert
		opts.HttpsKey = conf.Tls.HttpsKey
		opts.HttpsDomain = conf.Tls.Domain
		if conf.Tls.CertCache != "" {
			opts.CertCache = conf.Tls.CertCache
		}
		opts.HttpsRedirectAddress = conf.Address
		opts.PortRoll = conf.PortRoll
	}
}
