package main

import (
	"context"
	"flag"
	"log"
	"os/signal"
	"syscall"
	"time"

	"evcsms/evcs"
	"evcsms/internal"
)

func main() {
	var params evcs.Params
	flag.StringVar(&params.Host, "host", "127.0.0.1", "central system host")
	flag.StringVar(&params.Port, "port", "9000", "central system port")
	flag.StringVar(&params.PathBase, "path", "/ws", "WebSocket base path")
	flag.StringVar(&params.Name, "name", "SIM", "charge point name")
	flag.StringVar(&params.IdTag, "rfid", "TEST-1", "RFID tag to authorize with")
	flag.IntVar(&params.Duration, "duration", 60, "nominal charging time per session, seconds")
	repeat := flag.String("repeat", "1", "sessions per charger: a number, or forever")
	flag.IntVar(&params.Count, "count", 1, "number of simulated chargers")
	flag.IntVar(&params.Idle, "idle", 0, "idle time between sessions, seconds (0 = default)")
	flag.StringVar(&params.User, "user", "", "basic auth user")
	flag.StringVar(&params.Password, "password", "", "basic auth password")
	debug := flag.Bool("debug", false, "log raw frames")
	flag.Parse()
	params.Repeat = evcs.RepeatValue(*repeat)

	logger := internal.NewLogger(time.UTC)
	logger.SetDebugMode(*debug)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	log.Printf("simulating %d charger(s) against ws://%s:%s%s", params.Count, params.Host, params.Port, params.PathBase)
	if err := evcs.Simulate(ctx, params, logger, nil); err != nil {
		log.Fatalf("simulation failed: %s", err)
	}
	log.Println("simulation finished")
}
