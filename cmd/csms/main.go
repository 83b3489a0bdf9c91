package main

import (
	"log"

	"evcsms/evcs"
	"evcsms/internal/config"
	"evcsms/server"
)

func main() {
	conf, err := config.GetConfig()
	if err != nil {
		log.Fatalf("configuration failed: %s", err)
	}
	centralSystem, err := server.NewCentralSystem(conf)
	if err != nil {
		log.Fatalf("central system init failed: %s", err)
	}
	supervisor := evcs.NewSupervisor(centralSystem.Logger())
	centralSystem.SetSimulatorSupervisor(supervisor)

	log.Printf("starting central system on %s:%s%s", conf.Listen.BindIP, conf.Listen.Port, conf.Listen.PathBase)
	log.Fatal(centralSystem.Start())
}
