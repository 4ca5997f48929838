package main

import (
	"context"
	"log"

	"github.com/slalomtime/racesync/internal/client/cli"
	"github.com/slalomtime/racesync/internal/client/config"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := cli.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	if err := app.Run(ctx); err != nil {
		log.Fatalf("%v", err)
	}
}
