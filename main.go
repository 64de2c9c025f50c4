package main

import (
	"crypto/tls"
	"flag"
	"fmt"

	"qpackd/internal/helper"
	"qpackd/internal/server"
)

func main() {
	var certPath = flag.String("cert", "", "https server cert file")
	var keyPath = flag.String("key", "", "https server key file")
	var configFile = flag.String("config", "", "config file")

	flag.Parse()

	if *configFile == "" {
		panic("Config file arg is required!")
	}
	if (*certPath == "") != (*keyPath == "") {
		panic("Certification and key file args must be given together!")
	}

	var err error
	var cert []tls.Certificate
	if *certPath != "" {
		cert, err = helper.LoadCertificates(*certPath, *keyPath)
		if err != nil {
			panic(fmt.Errorf("failed to load certificates: %v", err))
		}
	}

	srv, err := server.NewServer(*configFile)
	if err != nil {
		panic(fmt.Errorf("failed to load config: %v", err))
	}

	err = srv.Start(cert)
	if err != nil {
		fmt.Printf("failed to start server: %v", err)
		return
	}
}
