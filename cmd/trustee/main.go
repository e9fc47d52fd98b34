package main

import (
	"context"
	"log"

	"github.com/theyuvan/zk-STRKfi-sub004/internal/trustee"
	"github.com/theyuvan/zk-STRKfi-sub004/internal/trustee/config"
)

func main() {
	ctx := context.Background()
	cfg := config.LoadConfig()

	app, err := trustee.NewApp(ctx, cfg)
	if err != nil {
		log.Printf("%v", err)
		return
	}

	if err := app.Run(ctx); err != nil {
		log.Printf("%v", err)
	}
}
