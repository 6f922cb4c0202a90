// Package dashboard serves the admin web UI and its JSON API.
package dashboard

import (
	"context"
	"embed"
	"html/template"
	"io/fs"
	"net/http"
	"strings"
	"time"

	"github.com/gorilla/mux"
	jsoniter "github.com/json-iterator/go"
	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"ctf-assistant/internal/analytics"
	"ctf-assistant/internal/config"
	"ctf-assistant/internal/integrations"
	"ctf-assistant/internal/poller"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

var json = jsoniter.ConfigCompatibleWithStandardLibrary

const (
	discordAuthURL  = "https://discord.com/oauth2/authorize"
	discordTokenURL = "https://discord.com/api/oauth2/token"
	discordUserURL  = "https://discord.com/api/users/@me"
)

// Checker runs an immediate donation check for one integration.
type Checker interface {
	CheckNow(ctx context.Context, id string) (poller.Result, error)
}

type Options struct {
	Config       config.DashboardConfig
	Env          string
	Integrations *integrations.Service
	Analytics    *analytics.Service
	Checker      Checker
	Logger       *zap.Logger
}

type Server struct {
	cfg          config.DashboardConfig
	integrations *integrations.Service
	analytics    *analytics.Service
	checker      Checker
	logger       *zap.Logger

	oauth    *oauth2.Config
	userURL  string
	sessions *sessionCodec
	admins   map[string]struct{}
	pages    *template.Template
	proxy    http.Handler
}

func New(opts Options) (*Server, error) {
	cfg := opts.Config
	if len(cfg.SessionSecret) < 16 {
		return nil, errors.New("dashboard session secret must be at least 16 characters")
	}
	pages, err := template.New("dashboard").Funcs(templateFuncs).ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, errors.Wrap(err, "parse dashboard templates")
	}

	publicURL := strings.TrimRight(cfg.PublicURL, "/")
	s := &Server{
		cfg:          cfg,
		integrations: opts.Integrations,
		analytics:    opts.Analytics,
		checker:      opts.Checker,
		logger:       opts.Logger,
		oauth: &oauth2.Config{
			ClientID:     cfg.OAuthClientID,
			ClientSecret: cfg.OAuthClientSecret,
			RedirectURL:  publicURL + "/auth/callback",
			Scopes:       []string{"identify"},
			Endpoint: oauth2.Endpoint{
				AuthURL:   discordAuthURL,
				TokenURL:  discordTokenURL,
				AuthStyle: oauth2.AuthStyleInParams,
			},
		},
		userURL:  discordUserURL,
		sessions: newSessionCodec(cfg.SessionSecret, 12*time.Hour, strings.HasPrefix(publicURL, "https://")),
		admins:   make(map[string]struct{}, len(cfg.AdminIDs)),
		pages:    pages,
	}
	for _, id := range cfg.AdminIDs {
		if id = strings.TrimSpace(id); id != "" {
			s.admins[id] = struct{}{}
		}
	}

	if opts.Env == config.EnvDevelopment {
		proxy, err := newDevProxy(cfg.APIBaseURL, opts.Logger)
		if err != nil {
			return nil, err
		}
		s.proxy = proxy
		opts.Logger.Info("dashboard proxying api to remote backend", zap.String("target", cfg.APIBaseURL))
	}
	return s, nil
}

func (s *Server) Handler() http.Handler {
	router := mux.NewRouter()

	if s.proxy != nil {
		router.PathPrefix("/api/").Handler(s.proxy)
		router.Handle("/health", s.proxy)
	} else {
		router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
		api := router.PathPrefix("/api").Subrouter()
		api.Use(s.requireAdminAPI)
		api.HandleFunc("/integrations", s.apiListIntegrations).Methods(http.MethodGet)
		api.HandleFunc("/integrations/{id:[0-9a-f]{24}}", s.apiGetIntegration).Methods(http.MethodGet)
		api.HandleFunc("/integrations/{id:[0-9a-f]{24}}", s.apiDeleteIntegration).Methods(http.MethodDelete)
		api.HandleFunc("/stats", s.apiStats).Methods(http.MethodGet)
	}

	static, _ := fs.Sub(staticFS, "static")
	router.PathPrefix("/static/").Handler(http.StripPrefix("/static/", http.FileServer(http.FS(static))))

	router.HandleFunc("/login", s.handleLogin).Methods(http.MethodGet)
	router.HandleFunc("/auth/callback", s.handleCallback).Methods(http.MethodGet)
	router.HandleFunc("/logout", s.handleLogout).Methods(http.MethodPost)

	pages := router.NewRoute().Subrouter()
	pages.Use(s.requireAdmin)
	pages.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.Redirect(w, r, "/integrations", http.StatusFound)
	}).Methods(http.MethodGet)
	pages.HandleFunc("/integrations", s.handleList).Methods(http.MethodGet)
	pages.HandleFunc("/integrations", s.handleCreate).Methods(http.MethodPost)
	pages.HandleFunc("/integrations/new", s.handleNew).Methods(http.MethodGet)
	pages.HandleFunc("/integrations/{id:[0-9a-f]{24}}", s.handleUpdate).Methods(http.MethodPost)
	pages.HandleFunc("/integrations/{id:[0-9a-f]{24}}/edit", s.handleEdit).Methods(http.MethodGet)
	pages.HandleFunc("/integrations/{id:[0-9a-f]{24}}/delete", s.handleDeleteConfirm).Methods(http.MethodGet)
	pages.HandleFunc("/integrations/{id:[0-9a-f]{24}}/delete", s.handleDelete).Methods(http.MethodPost)
	pages.HandleFunc("/integrations/{id:[0-9a-f]{24}}/check", s.handleCheck).Methods(http.MethodPost)

	origins := s.cfg.CORSOrigins
	if len(origins) == 0 {
		origins = []string{strings.TrimRight(s.cfg.PublicURL, "/")}
	}
	c := cors.New(cors.Options{
		AllowedOrigins:   origins,
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodDelete, http.MethodOptions},
		AllowedHeaders:   []string{"Content-Type"},
		AllowCredentials: true,
	})
	return c.Handler(router)
}

// Run serves until ctx is cancelled, then shuts down gracefully.
func (s *Server) Run(ctx context.Context) error {
	server := &http.Server{
		Addr:              s.cfg.Addr,
		Handler:           s.Handler(),
		ReadHeaderTimeout: 30 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		s.logger.Info("dashboard listening", zap.String("addr", s.cfg.Addr))
		errCh <- server.ListenAndServe()
	}()

	select {
	case <-ctx.Done():
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return server.Shutdown(shutdownCtx)
	case err := <-errCh:
		if errors.Is(err, http.ErrServerClosed) {
			return nil
		}
		return err
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, s.logger, http.StatusOK, map[string]string{"status": "ok"})
}

func writeJSON(w http.ResponseWriter, logger *zap.Logger, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		logger.Warn("encode json response failed", zap.Error(err))
	}
}
