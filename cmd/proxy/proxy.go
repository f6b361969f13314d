/*
Proxy is a transport-level UDP proxy server
supporting multiple concurrent connections.

Usage:

	proxy [-config file.yml] dial:port listen:port

where dial:port is the server address
and listen:port is the address to listen on.
*/
package main

import (
	"flag"
	"fmt"
	"net"
	"os"

	"github.com/rs/zerolog"

	"github.com/w3itch-crafter/minetest/rudp"
	"github.com/w3itch-crafter/minetest/rudp/proxy"
)

func main() {
	cfgPath := flag.String("config", "", "yaml transport config")
	flag.Parse()

	if flag.NArg() != 2 {
		fmt.Fprintln(os.Stderr, "usage: proxy [-config file.yml] dial:port listen:port")
		os.Exit(1)
	}

	log := zerolog.New(zerolog.ConsoleWriter{Out: os.Stderr}).
		With().Timestamp().Str("app", "proxy").Logger()

	cfg := rudp.DefaultConfig()
	if *cfgPath != "" {
		var err error
		if cfg, err = rudp.LoadConfig(*cfgPath); err != nil {
			log.Fatal().Err(err).Msg("bad config")
		}
	}

	upstream, err := net.ResolveUDPAddr("udp", flag.Arg(0))
	if err != nil {
		log.Fatal().Err(err).Msg("bad upstream address")
	}
	listen, err := net.ResolveUDPAddr("udp", flag.Arg(1))
	if err != nil {
		log.Fatal().Err(err).Msg("bad listen address")
	}

	p := proxy.New(cfg, upstream, log)
	if err := p.ListenAndServe(listen); err != nil {
		log.Fatal().Err(err).Msg("proxy stopped")
	}
}
