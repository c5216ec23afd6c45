package monitoring

import (
	"context"
	"fmt"
	"net/http"
	"net/http/pprof"

	"github.com/csremote/broker/pkg/config"
	"github.com/csremote/broker/pkg/logger"
	"github.com/csremote/broker/pkg/network/httpx"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

type Monitoring struct {
	conf   config.Monitoring
	server *httpx.Server
	log    *logger.Logger
}

// New creates new monitoring service.
// The tag param specifies owner label for logs.
func New(conf config.Monitoring, tag string, log *logger.Logger) (*Monitoring, error) {
	log = log.Extend(log.With().Str(logger.ChannelField, tag))
	h := http.NewServeMux()
	if conf.ProfilingEnabled {
		prefix := fmt.Sprintf("%s/debug/pprof", conf.URLPrefix)
		h.HandleFunc(prefix+"/", pprof.Index)
		h.HandleFunc(prefix+"/cmdline", pprof.Cmdline)
		h.HandleFunc(prefix+"/profile", pprof.Profile)
		h.HandleFunc(prefix+"/symbol", pprof.Symbol)
		h.HandleFunc(prefix+"/trace", pprof.Trace)
		// named profiles are not reachable through the index on a custom prefix
		for _, name := range []string{"allocs", "block", "goroutine", "heap", "mutex", "threadcreate"} {
			h.Handle(prefix+"/"+name, pprof.Handler(name))
		}
	}
	if conf.MetricEnabled {
		h.Handle(conf.URLPrefix+"/metrics", promhttp.Handler())
	}

	serv, err := httpx.NewServer(fmt.Sprintf(":%d", conf.Port), h, httpx.WithLogger(log))
	if err != nil {
		return nil, err
	}
	if conf.ProfilingEnabled {
		log.Info().Msgf("Profiling is enabled at %v%v/debug/pprof", serv.Addr, conf.URLPrefix)
	}
	if conf.MetricEnabled {
		log.Info().Msgf("Prometheus metric is enabled at %v%v/metrics", serv.Addr, conf.URLPrefix)
	}
	return &Monitoring{conf: conf, server: serv, log: log}, nil
}

func (m *Monitoring) Run() {
	m.log.Info().Msgf("Starting monitoring server at %v", m.server.Addr)
	m.server.Run()
}

func (m *Monitoring) Shutdown(ctx context.Context) error {
	m.log.Info().Msg("Shutting down monitoring server")
	return m.server.Shutdown(ctx)
}

func (m *Monitoring) String() string {
	return fmt.Sprintf("monitoring::%s:%d", m.conf.URLPrefix, m.conf.Port)
}
