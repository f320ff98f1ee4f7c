// Command medibot-index builds and inspects the knowledge index offline.
package main

import (
	"os"

	"github.com/joho/godotenv"

	"github.com/viveksaraswat123/medical-chatbot/pkg/config"
)

func main() {
	_ = godotenv.Load()
	cfg := config.Load()

	if err := newRootCmd(cfg).Execute(); err != nil {
		os.Exit(1)
	}
}
