// Package handlers wires the HTTP transport: a Fiber app carrying the
// outer safety-net middleware (recover, logger, cors), a single
// catch-all route feeding internal/pipeline, and one Handler per
// endpoint in spec §6 composing internal/core's Port.
package handlers

import (
	"context"
	"errors"
	"fmt"
	"log"
	"net"
	"os"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/go-monolith/mono"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/google/uuid"

	"github.com/example/authguard-server/internal/core"
	"github.com/example/authguard-server/internal/domain"
	"github.com/example/authguard-server/internal/pipeline"
	"github.com/example/authguard-server/internal/portselect"
	"github.com/example/authguard-server/internal/ratelimit"
	"github.com/example/authguard-server/internal/router"
)

// Module is the HTTP API module, depending on core for every business
// operation.
type Module struct {
	app          *fiber.App
	coreAdapter  core.Port
	port         int
	serverID     string
	bruteForce   *ratelimit.BruteForce
}

var _ mono.Module = (*Module)(nil)
var _ mono.DependentModule = (*Module)(nil)
var _ mono.HealthCheckableModule = (*Module)(nil)

// NewModule creates a Module. Port resolution happens in Start, after
// the core dependency's container has been injected.
func NewModule() *Module {
	return &Module{serverID: uuid.NewString()}
}

// Name returns the module name.
func (m *Module) Name() string { return "handlers" }

// Dependencies declares that this module needs the core module's
// container.
func (m *Module) Dependencies() []string { return []string{"core"} }

// SetDependencyServiceContainer receives the core module's container.
func (m *Module) SetDependencyServiceContainer(dependency string, container mono.ServiceContainer) {
	if dependency == "core" {
		m.coreAdapter = core.NewAdapter(container)
	}
}

// Start builds the Fiber app, the request pipeline, and the route
// table, then binds a listener, retrying across the configured port
// spec on bind failure.
func (m *Module) Start(_ context.Context) error {
	if m.coreAdapter == nil {
		return fmt.Errorf("handlers: core dependency not set")
	}

	m.app = fiber.New(fiber.Config{
		DisableStartupMessage: true,
	})
	m.app.Use(recover.New())
	m.app.Use(logger.New(logger.Config{
		Format: "[${time}] ${status} - ${latency} ${method} ${path}\n",
	}))
	m.app.Use(cors.New())

	limiter := ratelimit.New(envInt("AUTH_RATE_MAX", 10), envDuration("AUTH_RATE_WINDOW_MS", time.Second))
	m.bruteForce = ratelimit.NewBruteForce(envInt("AUTH_RATE_MAX", 10), envDuration("AUTH_RATE_WINDOW_MS", time.Second))

	r := router.New()
	registerRoutes(r, &handlerSet{core: m.coreAdapter, bruteForce: m.bruteForce})

	authenticate := func(token string) (*domain.User, error) {
		return m.coreAdapter.Authenticate(context.Background(), token)
	}
	pl := pipeline.New(m.serverID, r, limiter, pipeline.Authenticator(authenticate))
	m.app.Use(pl.Handle)

	return m.listen()
}

// listen implements the port selection policy of spec §4.11: it binds a
// raw listener first (so an in-use port is detected synchronously)
// before handing it to Fiber, retrying with the next candidate port on
// an address-in-use failure.
func (m *Module) listen() error {
	spec := portSpecFromEnv()
	prev := 0
	for attempt := 0; attempt < 20; attempt++ {
		port, err := portselect.GetPort(spec, prev)
		if err != nil {
			return fmt.Errorf("handlers: no available port: %w", err)
		}

		ln, err := net.Listen("tcp", fmt.Sprintf(":%d", port))
		if err == nil {
			m.port = port
			log.Printf("[handlers] HTTP server listening on :%d", port)
			go func() {
				if serveErr := m.app.Listener(ln); serveErr != nil {
					log.Printf("[handlers] HTTP server error: %v", serveErr)
				}
			}()
			return nil
		}
		if !isAddrInUse(err) {
			return fmt.Errorf("handlers: listen on :%d: %w", port, err)
		}
		prev = port
	}
	return fmt.Errorf("handlers: exhausted port attempts")
}

func isAddrInUse(err error) bool {
	return errors.Is(err, syscall.EADDRINUSE) || strings.Contains(err.Error(), "address already in use")
}

// Stop shuts down the Fiber server.
func (m *Module) Stop(_ context.Context) error {
	if m.app == nil {
		return nil
	}
	log.Println("[handlers] Shutting down HTTP server...")
	return m.app.Shutdown()
}

// Health reports whether Start has built the Fiber app.
func (m *Module) Health(_ context.Context) mono.HealthStatus {
	return mono.HealthStatus{
		Healthy: m.app != nil,
		Message: "operational",
		Details: map[string]any{"port": m.port},
	}
}

func envInt(key string, def int) int {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return v
}

func envDuration(key string, def time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return def
	}
	ms, err := strconv.Atoi(raw)
	if err != nil {
		return def
	}
	return time.Duration(ms) * time.Millisecond
}

func portSpecFromEnv() portselect.Spec {
	raw := os.Getenv("AUTH_PORT")
	if raw == "" {
		return portselect.Spec{Kind: portselect.Single, Port: 3000}
	}
	port, err := strconv.Atoi(raw)
	if err != nil {
		return portselect.Spec{Kind: portselect.Single, Port: 3000}
	}
	return portselect.Spec{Kind: portselect.Single, Port: port}
}
