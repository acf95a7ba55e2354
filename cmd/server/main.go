package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/casesync/internal/buildinfo"
	"github.com/dmitrijs2005/casesync/internal/server"
	"github.com/dmitrijs2005/casesync/internal/server/config"
)

func main() {

	buildinfo.PrintBuildData(os.Stdout)

	cfg, err := config.LoadConfig(os.Args[1:])
	if err != nil {
		log.Fatalf("config: %v", err)
	}

	ctx := context.Background()
	app, err := server.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}

	app.Run(ctx)
}
