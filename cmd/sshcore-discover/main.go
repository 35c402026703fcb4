// Command sshcore-discover resolves SSH endpoints published via mDNS and
// prints each as it is found, demonstrating discovery.go end to end.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"vex.systems/sshcore"
)

func main() {
	service := flag.String("service", "_ssh._tcp", "mDNS service type to browse for")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	entries, err := sshcore.Discover(ctx, *service, log.Logger.Level(zerolog.InfoLevel))
	if err != nil {
		log.Fatal().Err(err).Msg("discovery failed to start")
	}

	fmt.Fprintf(os.Stderr, "browsing for %q, press ctrl-c to stop\n", *service)
	for ep := range entries {
		fmt.Printf("%s\t%s\n", ep.Instance, ep.Addr())
	}
}
