package main

import (
	"context"
	"log"

	"github.com/quiverhq/quiver/internal/cli"
	"github.com/quiverhq/quiver/internal/config"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := cli.NewApp(ctx, cfg)
	if err != nil {
		log.Fatalf("%v", err)
	}
	defer app.Close()

	app.Run(ctx)
}
