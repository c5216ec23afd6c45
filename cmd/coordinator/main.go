package main

import (
	"context"
	"fmt"
	goos "os"
	"time"

	"github.com/csremote/broker/pkg/config"
	"github.com/csremote/broker/pkg/coordinator"
	"github.com/csremote/broker/pkg/logger"
	"github.com/csremote/broker/pkg/os"
)

var Version = "?"

func main() {
	conf, path, err := config.NewBrokerConfig(goos.Args[1:])
	if err != nil {
		fmt.Fprintln(goos.Stderr, err)
		goos.Exit(2)
	}

	log := logger.NewConsole(conf.Broker.Debug, "c", conf.Broker.NoColor)

	log.Info().Msgf("version %s", Version)
	if path != "" {
		log.Info().Msgf("config: %v", path)
	}
	if log.GetLevel() < logger.InfoLevel {
		log.Debug().Msgf("config: %+v", conf)
	}
	c, err := coordinator.New(conf, log)
	if err != nil {
		log.Fatal().Err(err).Msg("coordinator init")
	}
	c.Start()

	<-os.ExpectTermination()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := c.Shutdown(ctx); err != nil {
		log.Error().Err(err).Msg("service shutdown errors")
	}
}
