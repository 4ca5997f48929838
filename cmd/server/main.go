package main

import (
	"context"
	"log"

	"github.com/slalomtime/racesync/internal/server"
	"github.com/slalomtime/racesync/internal/server/config"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := server.NewApp(cfg)
	if err != nil {
		log.Fatal(err)
	}

	app.Run(ctx)
}
