package main

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

func main() {
	if err := godotenv.Load(); err != nil && !os.IsNotExist(err) {
		log.Printf(".env load failed: %v", err)
	}
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
