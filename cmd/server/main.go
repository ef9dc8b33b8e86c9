package main

import (
	"context"
	"log"
	"os"

	"github.com/dmitrijs2005/genevault/internal/logging"
	"github.com/dmitrijs2005/genevault/internal/server"
	"github.com/dmitrijs2005/genevault/internal/server/config"
)

func main() {

	ctx := context.Background()

	cfg, err := config.Load(os.Args[1:], os.Getenv)
	if err != nil {
		log.Fatalf("configuration error: %v", err)
	}

	logger, err := logging.New(os.Stdout, cfg.LogFormat, cfg.LogLevel)
	if err != nil {
		log.Fatalf("logger error: %v", err)
	}

	app, err := server.NewApp(ctx, cfg, logger, nil)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	app.Run(ctx)

}
