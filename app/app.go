package huddle

import (
	"context"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"
	"time"

	"github.com/go-chi/cors"
	"github.com/gorilla/handlers"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/huddlenet/huddle/core"
	"github.com/huddlenet/huddle/pkg/router"
	"github.com/huddlenet/huddle/proto"
)

type App struct {
	config      *Config
	db          *core.SQLiteDB
	context     context.Context
	server      *http.Server
	logger      *slog.Logger
	router      *router.Router
	eventRouter *core.EventRouter
	wsManager   *core.ConnManager

	roomRegistry *core.RoomRegistry
	callRegistry *core.CallRegistry

	exit chan int

	userStore core.UserStore
	chatStore core.ChatStore
	authStore core.AuthStore
	callStore core.CallStore

	userHandler *UserHandler
	chatHandler *ChatHandler
	authHandler *AuthHandler
	callHandler *CallHandler
	fileHandler *FileHandler

	cleanupFuncs []func(context.Context)

	wg sync.WaitGroup
}

func New(ctx context.Context, config *Config) *App {
	var err error
	app := &App{
		exit: make(chan int),
	}
	if ctx == nil {
		ctx, _ = signal.NotifyContext(
			context.Background(),
			syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT, syscall.SIGHUP)
	}
	app.context = ctx

	if config == nil {
		var err error
		config, err = LoadConfig()
		if err != nil {
			failed(1, "failed to load config: %v\n", err)
		}
	}
	if err := config.Validate(); err != nil {
		failed(1, FormatValidationErrors(err))
	}
	app.config = config

	app.logger = slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelDebug,
		AddSource: true,
		ReplaceAttr: func(groups []string, a slog.Attr) slog.Attr {
			if a.Key == slog.SourceKey {
				source, _ := a.Value.Any().(*slog.Source)
				if source != nil {
					source.File = filepath.Base(source.File)
				}
			}
			return a
		},
	}))

	sqliteOptions := &core.SQLiteDBOption{
		Mode:        "rwc",
		Cache:       "shared",
		JournalMode: "WAL",
	}
	app.db, err = core.NewSQLiteDB(app.config.SQLite.File, app.config.SQLite.Migrations, sqliteOptions)
	if err != nil {
		failed(1, "failed to open database: %v\n", err)
	}
	app.AddCleanupFunc(func(ctx context.Context) {
		app.db.Close()
	})
	if err := app.db.Migrate(); err != nil {
		failed(1, "failed to migrate database: %v\n", err)
	}

	app.userStore = core.NewSQLiteUserStore(app.db.DB)
	authStore := core.NewSQLiteAuthStore(app.db.DB, app.userStore, []byte(app.config.Auth.Secret))
	app.authStore = authStore
	app.chatStore = core.NewSQLiteChatStore(app.db.DB, app.userStore)
	app.callStore = core.NewSQLiteCallStore(app.db.DB)

	app.roomRegistry = core.NewRoomRegistry()
	app.callRegistry = core.NewCallRegistry()

	app.wsManager = core.NewConnManager(app.context, &app.wg, app.logger, authStore)
	app.wsManager.OnUserConnected(app.onUserConnect)
	app.wsManager.OnConnectionOpened(app.onConnectionOpen)
	app.wsManager.OnConnectionClosed(app.onConnectionClose)
	app.wsManager.OnUserDisconnected(app.onUserDisconnect)

	app.eventRouter = core.NewEventRouter(app.context, app.logger, app.wsManager)
	app.eventRouter.On(proto.JoinChatEvent, app.JoinChatHandler)
	app.eventRouter.On(proto.LeaveChatEvent, app.LeaveChatHandler)
	app.eventRouter.On(proto.SendMessageEvent, app.SendMessageHandler)
	app.eventRouter.On(proto.TypingEvent, app.TypingEventHandler)
	app.eventRouter.On(proto.CallUserEvent, app.CallUserHandler)
	app.eventRouter.On(proto.CallResponseEvent, app.CallResponseHandler)
	app.eventRouter.On(proto.WebRTCSignalEvent, app.WebRTCSignalHandler)

	app.userHandler = NewUserHandler(app.userStore)
	app.chatHandler = NewChatHandler(app.chatStore)
	app.authHandler = NewAuthHandler(app.authStore, app.wsManager)
	app.callHandler = NewCallHandler(app.callStore)
	app.fileHandler = NewFileHandler(app.config.Uploads.Dir)
	authMiddleware := core.JWTMiddleware(app.authStore)

	app.router = router.New(router.WithLogger(app.logger))

	app.router.Router.Use(func(h http.Handler) http.Handler {
		return handlers.CombinedLoggingHandler(os.Stdout, h)
	})
	app.router.Router.Use(cors.Handler(cors.Options{
		AllowedOrigins:   app.config.AllowedOrigins,
		AllowedMethods:   []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowedHeaders:   []string{"Accept", "Authorization", "Content-Type"},
		AllowCredentials: true,
	}))

	// authentication of websocket connections happens in-band with the
	// authenticate event, so the route itself is unprotected.
	app.router.Router.Get("/ws", func(w http.ResponseWriter, r *http.Request) {
		if err := app.wsManager.Connect(w, r); err != nil {
			app.logger.Error(fmt.Sprintf("ws connect: %v", err))
		}
	})

	app.router.Router.Handle("/metrics", promhttp.Handler())

	api := router.New(router.WithLogger(app.logger))

	api.Route("/users", func(r *router.Router) {
		r.With(authMiddleware).Get("/me", app.userHandler.MeHandler)
		r.Post("/", app.userHandler.RegisterUserHandler)
		r.Get("/{username}", app.userHandler.GetUserByUsernameHandler)
	})

	api.Group(func(r *router.Router) {
		r.Use(authMiddleware)
		r.Get("/users/me/rooms", app.chatHandler.GetMyRoomsHandler)
		r.Get("/users/me/contacts", app.chatHandler.GetMyContactsHandler)
		r.Post("/rooms", app.chatHandler.CreateRoomHandler)
		r.Get("/rooms/{roomID}", app.chatHandler.GetRoomByIDHandler)
		r.Get("/rooms/{roomID}/messages", app.chatHandler.GetRoomMessagesHandler)
		r.Post("/rooms/{roomID}/members", app.chatHandler.AddRoomMemberHandler)
		r.Delete("/rooms/{roomID}/members/{userID}", app.chatHandler.RemoveRoomMemberHandler)
		r.Get("/call-history", app.callHandler.GetCallHistoryHandler)
		r.Post("/call-history", app.callHandler.CreateCallRecordHandler)
		r.Post("/files", app.fileHandler.UploadHandler)
	})

	api.Route("/auth", func(r *router.Router) {
		r.Post("/signin", app.authHandler.SigninHandler)
		r.With(authMiddleware).Post("/signout", app.authHandler.SignoutHandler)
	})

	app.router.Mount("/api", api)

	uploadFS := http.StripPrefix("/uploads/", http.FileServer(http.Dir(app.config.Uploads.Dir)))
	app.router.Router.Handle("/uploads/*", uploadFS)

	app.server = &http.Server{
		Addr:    fmt.Sprintf("%s:%d", app.config.Hostname, app.config.Port),
		Handler: app.router.Router,
		BaseContext: func(listener net.Listener) context.Context {
			return app.context
		},
	}

	return app
}

func (app *App) Start() {
	app.eventRouter.Listen()
	app.AddCleanupFunc(func(ctx context.Context) {
		app.eventRouter.Close(ctx)
	})

	// listen for shutdown signal
	go func() {
		<-app.context.Done()
		closeCtx, closeCancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer closeCancel()
		var wg sync.WaitGroup

		for _, f := range app.cleanupFuncs {
			wg.Add(1)
			func(wg *sync.WaitGroup) {
				defer wg.Done()
				f(closeCtx)
			}(&wg)
		}

		done := make(chan struct{})
		go func() {
			wg.Wait()
			close(done)
		}()

		select {
		case <-done:
			app.logger.Info("app shutdown gracefully")
			app.exit <- 0
		case <-closeCtx.Done():
			app.logger.Info("app shutdown timed out")
			app.exit <- 1
		}
	}()

	app.AddCleanupFunc(func(ctx context.Context) {
		app.server.Shutdown(ctx)
	})
	app.logger.Info(fmt.Sprintf("app running on: %s:%d",
		app.config.Hostname, app.config.Port))

	var err error
	if app.config.TLS.Key != "" && app.config.TLS.Crt != "" {
		err = app.server.ListenAndServeTLS(app.config.TLS.Crt, app.config.TLS.Key)
	} else {
		err = app.server.ListenAndServe()
	}
	if err != nil && err != http.ErrServerClosed {
		failed(1, "server error: %v\n", err)
	}

	code := <-app.exit
	if code != 0 {
		failed(code, "app exit with code: %d\n", code)
	} else {
		os.Exit(code)
	}
}

func (app *App) AddCleanupFunc(f func(context.Context)) {
	app.cleanupFuncs = append(app.cleanupFuncs, f)
}

func failed(code int, s string, args ...interface{}) {
	fmt.Printf(s, args...)
	os.Exit(code)
}
