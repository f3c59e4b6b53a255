package main

import (
	"context"
	"flag"
	"os"

	"github.com/termdeck/termdeck/internal/cli"
	"github.com/termdeck/termdeck/internal/config"
)

func main() {
	cfg := config.DefaultConfig()
	addr := flag.String("addr", cfg.ListenAddr, "daemon address")
	token := flag.String("token", os.Getenv("TERMDECK_TOKEN"), "daemon auth token")
	flag.Parse()

	r := cli.NewRunner("http://"+*addr, *token, os.Stdout, os.Stderr)
	os.Exit(r.Run(context.Background(), flag.Args()))
}
