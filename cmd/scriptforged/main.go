package main

import (
	"log"
	"os"

	"github.com/scriptforge/scriptforge/config"
	"github.com/scriptforge/scriptforge/internal/server"
)

func main() {
	addr := os.Getenv("SCRIPTFORGE_HTTP_ADDR")
	cfg := config.LoadConfig(os.Getenv("SCRIPTFORGE_CONFIG"))

	if err := server.Run(cfg, addr); err != nil {
		log.Fatalf("server error: %v", err)
	}
}
