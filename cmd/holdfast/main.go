package main

import (
	"os"

	"github.com/joho/godotenv"
)

func main() {
	// Optional; env-only deployments run without a .env file.
	_ = godotenv.Load()

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
