package route

import (
	"net/http"

	"github.com/jonathanvineet/DAIO/internal/config"
	"github.com/jonathanvineet/DAIO/internal/handler"
	"github.com/jonathanvineet/DAIO/internal/logger"
	"github.com/jonathanvineet/DAIO/internal/middleware"
	"github.com/jonathanvineet/DAIO/internal/repository"
	hub "github.com/jonathanvineet/DAIO/internal/service/websocket"
)

// Dependencies collects what the HTTP surface needs. Stream, SnapshotRepo and
// DetectionRepo may be nil; their routes are then not registered.
type Dependencies struct {
	Config        *config.Config
	Logger        *logger.Logger
	Pipeline      handler.Pipeline
	Hub           *hub.HubService
	Stream        http.Handler
	SnapshotRepo  repository.SnapshotRepository
	DetectionRepo repository.DetectionRepository
}

// SetupRoutes registers HTTP routes and API endpoints, and wraps the mux
// with the authentication middleware.
func SetupRoutes(d Dependencies) http.Handler {
	mux := http.NewServeMux()

	// Video
	if d.Stream != nil {
		mux.Handle("/stream", d.Stream)
	}
	if d.Hub != nil {
		mux.HandleFunc("/api/view", handler.ViewWebsocketHandler(d.Hub, d.Logger))
	}

	// Pipeline control
	mux.HandleFunc("/api/status", handler.StatusHandler(d.Pipeline, d.Logger))
	mux.HandleFunc("/api/stop", handler.StopHandler(d.Pipeline, d.Logger))
	mux.HandleFunc("/healthz", handler.HealthHandler(d.Pipeline))

	// Snapshots
	if d.SnapshotRepo != nil && d.DetectionRepo != nil {
		mux.HandleFunc("/api/snapshots", handler.GetSnapshotsHandler(d.Logger, d.SnapshotRepo, d.DetectionRepo))
		mux.HandleFunc("/api/snapshots/view", handler.ViewSnapshotHandler(d.Config))
	}

	// Log endpoints
	for level, file := range handler.LogFiles {
		mux.HandleFunc("/logs/"+level, handler.ShowLogsHandler(d.Config.LogDirectory, file))
		mux.HandleFunc("/logs/"+level+"/clear", handler.ClearLogsHandler(d.Logger, file))
	}

	// Auth endpoints
	mux.HandleFunc("/login", handler.LoginPageHandler)
	mux.HandleFunc("/auth/login", handler.LoginHandler(d.Config, d.Logger))
	mux.HandleFunc("/auth/logout", handler.LogoutHandler)

	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path != "/" {
			http.NotFound(w, r)
			return
		}
		http.Redirect(w, r, "/api/status", http.StatusSeeOther)
	})

	// Apply middleware
	return middleware.AuthMiddleware(mux)
}
