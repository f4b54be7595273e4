// Command authd is the thin bootstrapper excluded from the core library
// by spec §1: it registers the core and handlers modules (which read
// AUTH_DATA_DIR and AUTH_PORT from the environment), starts the mono
// application, and shuts down cleanly on interrupt.
package main

import (
	"context"
	"log"
	"os"
	"time"

	gfshutdown "github.com/gelmium/graceful-shutdown"
	"github.com/go-monolith/mono"

	"github.com/example/authguard-server/internal/core"
	"github.com/example/authguard-server/internal/handlers"
)

const shutdownTimeout = 30 * time.Second

func main() {
	log.Println("=== authguard-server ===")

	app, err := mono.NewMonoApplication(
		mono.WithShutdownTimeout(shutdownTimeout),
		mono.WithLogLevel(mono.LogLevelInfo),
		mono.WithLogFormat(mono.LogFormatText),
	)
	if err != nil {
		log.Fatalf("Failed to create application: %v", err)
	}

	app.Register(core.NewModule())     // Independent module (storage + business logic)
	app.Register(handlers.NewModule()) // Depends on core (HTTP transport)

	if err := app.Start(context.Background()); err != nil {
		log.Fatalf("Failed to start application: %v", err)
	}

	log.Printf("Listening with data dir %q", dataDir())
	log.Println("Press Ctrl+C to shut down gracefully")

	wait := gfshutdown.GracefulShutdown(
		context.Background(),
		shutdownTimeout,
		map[string]gfshutdown.Operation{
			"mono-app": func(ctx context.Context) error {
				log.Println("Graceful shutdown initiated...")
				return app.Stop(ctx)
			},
		},
	)

	exitCode := <-wait
	log.Printf("Application exited with code: %d", exitCode)
	os.Exit(exitCode)
}

func dataDir() string {
	if v := os.Getenv("AUTH_DATA_DIR"); v != "" {
		return v
	}
	return "./auth-data"
}
