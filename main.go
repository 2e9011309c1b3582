package main

import (
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/jevankovich/dht/config"
	"github.com/jevankovich/dht/service"
)

func main() {
	bindAddress := flag.String("bind", "[::]:0", "UDP address to listen on for protocol datagrams")
	adminAddress := flag.String("admin", "", "TCP address of the REST admin surface (disabled when empty)")
	joinAddresses := flag.String("join", "", "Comma-separated peer addresses to ping at startup")

	flag.Parse()

	cfg := &config.NodeConfiguration{
		BindAddress:  *bindAddress,
		AdminAddress: *adminAddress,
	}
	if *joinAddresses != "" {
		cfg.BootstrapPeers = strings.Split(*joinAddresses, ",")
	}

	node, err := service.StartNode(cfg)
	if err != nil {
		log.Fatalf("Could not start node. Reason=%s", err.Error())
	}
	log.Printf("Bound to %s", node.LocalAddr())

	if len(cfg.BootstrapPeers) > 0 {
		if bootstrapErr := node.Bootstrap(cfg.BootstrapPeers); bootstrapErr != nil {
			log.Printf("[WARN] Bootstrap failed. Reason=%s", bootstrapErr.Error())
		}
	}

	interrupts := make(chan os.Signal, 1)
	signal.Notify(interrupts, os.Interrupt, syscall.SIGTERM)
	<-interrupts

	log.Printf("Shutting down...")
	if shutdownErr := node.Shutdown(); shutdownErr != nil {
		log.Fatalf("Shutdown finished with error: %s", shutdownErr.Error())
	}
}
