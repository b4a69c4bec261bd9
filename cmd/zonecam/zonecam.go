package main

import (
	"fmt"
	"os"

	"github.com/akamensky/argparse"
	"github.com/coreos/go-systemd/daemon"
	"github.com/zonecam/zonecam/server"
)

func main() {
	parser := argparse.NewParser("zonecam", "Per-zone vehicle analytics for IP cameras")
	configFile := parser.String("c", "config", &argparse.Options{Help: "Config file path", Default: ""})
	port := parser.String("p", "port", &argparse.Options{Help: "HTTP listen address", Default: ":8080"})
	err := parser.Parse(os.Args)
	if err != nil {
		fmt.Print(parser.Usage(err))
		os.Exit(1)
	}

	s, err := server.NewServer(*configFile)
	if err != nil {
		fmt.Printf("Failed to start server: %v\n", err)
		os.Exit(1)
	}
	s.ListenForKillSignals()

	// Tell systemd that we're alive
	daemon.SdNotify(false, daemon.SdNotifyReady)

	if err := s.ListenHTTP(*port); err != nil {
		fmt.Printf("%v\n", err)
	}
}
