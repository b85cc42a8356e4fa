// bar-display tails the BAR topic the way a counter screen would. Two
// independent panels subscribe through the same mux; only one physical
// stream is opened against the server.
package main

import (
	"context"
	"flag"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	notifyapiclient "github.com/warunk-dev/resto-core/delivery/notify-api-client"
	"github.com/warunk-dev/resto-core/types/entity"
)

func init() {
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr}).With().Timestamp().Logger()
}

func main() {
	var server string
	flag.StringVar(&server, "server", "http://localhost:9090", "resto-server base URL")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	mux := notifyapiclient.NewMux(&notifyapiclient.SSEDialer{
		BaseURL:    server,
		ConsumerID: "bar-display",
	})

	// order ticker panel: only cares about incoming orders
	ticker, err := mux.Open(ctx, entity.TopicBar, entity.Broadcast())
	if err != nil {
		log.Fatal().Msgf("failed to open stream: %v", err)
	}
	defer ticker.Close()
	ticker.Subscribe(func(f notifyapiclient.Frame) {
		log.Info().Msgf("[orders] %s", f.Data)
	}, entity.EventNewOrder)

	// audit panel: same topic and scope, shares the physical connection
	audit, err := mux.Open(ctx, entity.TopicBar, entity.Broadcast())
	if err != nil {
		log.Fatal().Msgf("failed to open stream: %v", err)
	}
	defer audit.Close()
	audit.Subscribe(func(f notifyapiclient.Frame) {
		log.Info().Msgf("[audit] %v %s", f.Event, f.Data)
	})

	log.Info().Msgf("physical connections: %v", mux.Len())

	<-ctx.Done()
}
