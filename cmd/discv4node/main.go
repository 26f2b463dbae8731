// Command discv4node runs a standalone Kademlia-style peer discovery node.
package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/urfave/cli/v2"

	"github.com/kadnet/discv4/discover"
	"github.com/kadnet/discv4/internal/log"
)

func main() {
	app := &cli.App{
		Name:  "discv4node",
		Usage: "run a peer discovery node",
		Flags: []cli.Flag{
			&cli.StringFlag{Name: "config", Aliases: []string{"c"}, Usage: "path to a TOML config file"},
			&cli.BoolFlag{Name: "bootnode", Usage: "run with a persistent identity (overrides config)"},
			&cli.StringFlag{Name: "private-key", Usage: "hex private key, required with --bootnode"},
			&cli.StringFlag{Name: "host", Value: "0.0.0.0", Usage: "address to bind the discovery socket to"},
			&cli.UintFlag{Name: "port", Value: 30303, Usage: "UDP discovery port"},
			&cli.UintFlag{Name: "tcp-port", Value: 30303, Usage: "advertised TCP port"},
		},
		Action: run,
	}
	if err := app.Run(os.Args); err != nil {
		log.Root().Error("discv4node exited", "err", err)
		os.Exit(1)
	}
}

func run(c *cli.Context) error {
	fc, err := loadFileConfig(c.String("config"))
	if err != nil {
		return err
	}

	cfg, err := fc.toDiscoverConfig()
	if err != nil {
		return err
	}
	if c.Bool("bootnode") {
		cfg.IsBootnode = true
	}
	if key := c.String("private-key"); key != "" {
		cfg.PrivateKeyHex = key
	}
	if h := c.String("host"); h != "" && (c.IsSet("host") || cfg.Host == "") {
		cfg.Host = h
	}
	if c.IsSet("port") || cfg.DiscoveryPort == 0 {
		cfg.DiscoveryPort = uint16(c.Uint("port"))
	}
	if c.IsSet("tcp-port") || cfg.TCPPort == 0 {
		cfg.TCPPort = uint16(c.Uint("tcp-port"))
	}
	if cfg.IsBootnode && cfg.PrivateKeyHex == "" {
		return fmt.Errorf("--bootnode requires --private-key or private_key in the config file")
	}

	logger := log.Root()
	cfg.Logger = logger

	ctl, err := discover.Start(cfg)
	if err != nil {
		return fmt.Errorf("start discovery: %w", err)
	}

	ctl.Subscribe(func(ev discover.PeerBondedEvent) {
		logger.Info("peer bonded", "peer", ev.Peer.ID, "endpoint", ev.Peer.Endpoint)
	})

	sig := make(chan os.Signal, 1)
	signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
	<-sig

	logger.Info("shutting down")
	return ctl.Stop()
}
