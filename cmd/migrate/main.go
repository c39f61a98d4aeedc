// migrate applies the embedded user-store schema; use with go run ./cmd/migrate.
package main

import (
	"flag"
	"fmt"
	"os"

	"auth-service/internal/config"
	"auth-service/internal/db/migrate"
)

func main() {
	direction := flag.String("direction", "up", "Migration direction: up or down")
	flag.Parse()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintln(os.Stderr, "config:", err)
		os.Exit(1)
	}
	if err := migrate.Run(cfg.DatabaseURL, *direction); err != nil {
		fmt.Fprintln(os.Stderr, "migrate:", err)
		os.Exit(1)
	}
	version, dirty, err := migrate.Version(cfg.DatabaseURL)
	switch {
	case err == nil:
		fmt.Printf("schema version %d (dirty=%t)\n", version, dirty)
	case *direction == string(migrate.Down):
		fmt.Println("schema rolled back")
	default:
		fmt.Fprintln(os.Stderr, "migrate version:", err)
		os.Exit(1)
	}
}
