package main

import (
	"context"
	"database/sql"
	"embed"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/caarlos0/env/v11"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/template/django/v3"
	goerrors "github.com/goliatone/go-errors"
	"github.com/goliatone/go-logger/glog"
	"github.com/goliatone/go-router"
	mflash "github.com/goliatone/go-router/middleware/flash"
	"github.com/uptrace/bun"
	"github.com/uptrace/bun/dialect/sqlitedialect"
	"github.com/uptrace/bun/driver/sqliteshim"

	"github.com/clkk/funnel"
	"github.com/clkk/funnel/docstore"
	"github.com/clkk/funnel/provider/local"
)

//go:embed views
var viewsFS embed.FS

type Config struct {
	Addr         string        `env:"FUNNEL_ADDR" envDefault:":8080"`
	DSN          string        `env:"FUNNEL_DSN" envDefault:"file:funnel.db?cache=shared"`
	BaseURL      string        `env:"FUNNEL_BASE_URL" envDefault:"http://localhost:8080"`
	SigningKey   string        `env:"FUNNEL_SIGNING_KEY" envDefault:"clkk-funnel-dev-key"`
	SessionFile  string        `env:"FUNNEL_SESSION_FILE" envDefault:".funnel_session"`
	PollInterval time.Duration `env:"FUNNEL_POLL_INTERVAL" envDefault:"3s"`
	Debug        bool          `env:"FUNNEL_DEBUG" envDefault:"false"`
}

type App struct {
	config   Config
	bunDB    *bun.DB
	sessions *funnel.SessionStore
	provider *local.Provider
	poller   *funnel.VerificationPoller
	srv      router.Server[*fiber.App]
	logger   *glog.BaseLogger
}

func (a *App) GetLogger(name string) glog.Logger {
	return a.logger.GetLogger(name)
}

func main() {
	lgr := glog.NewLogger(
		glog.WithLoggerTypePretty(),
		glog.WithLevel(glog.Info),
		glog.WithName("funnel"),
		glog.WithAddSource(false),
		glog.WithRichErrorHandler(goerrors.ToSlogAttributes),
	)

	cfg := Config{}
	if err := env.Parse(&cfg); err != nil {
		panic(err)
	}

	app := &App{
		config: cfg,
		logger: lgr,
	}

	ctx := context.Background()

	if err := WithPersistence(ctx, app); err != nil {
		panic(err)
	}

	if err := WithFunnel(ctx, app); err != nil {
		panic(err)
	}

	if err := WithHTTPServer(ctx, app); err != nil {
		panic(err)
	}

	// One asynchronous resolution of any persisted session before the
	// first non-loading read; the guard makes no decision until then.
	go func() {
		if err := app.sessions.Resolve(ctx); err != nil {
			app.GetLogger("sessions").Error("session resolution failed", "error", err)
		}
	}()

	app.poller.Start(ctx)

	go app.srv.Serve(cfg.Addr)

	WaitExitSignal()

	app.poller.Stop()
}

func WithPersistence(ctx context.Context, app *App) error {
	sqldb, err := sql.Open(sqliteshim.ShimName, app.config.DSN)
	if err != nil {
		return err
	}

	db := bun.NewDB(sqldb, sqlitedialect.New())

	models := []any{
		(*local.Account)(nil),
		(*local.VerificationToken)(nil),
		(*docstore.Document)(nil),
	}
	for _, model := range models {
		if _, err := db.NewCreateTable().Model(model).IfNotExists().Exec(ctx); err != nil {
			return err
		}
	}

	app.bunDB = db
	return nil
}

func WithFunnel(ctx context.Context, app *App) error {
	repo := local.NewRepositoryManager(app.bunDB)
	if err := repo.Validate(); err != nil {
		return err
	}

	app.provider = local.New(repo,
		local.WithBaseURL(app.config.BaseURL),
		local.WithLogger(app.GetLogger("provider")),
	)

	app.sessions = funnel.NewSessionStore(app.provider,
		funnel.WithSessionLogger(app.GetLogger("sessions")),
		funnel.WithSigningKey(app.config.SigningKey),
		funnel.WithTokenPersister(funnel.NewFileTokenPersister(app.config.SessionFile)),
	)

	docs := docstore.New(app.bunDB, docstore.WithLogger(app.GetLogger("docstore")))
	completer := funnel.NewOnboardingCompleter(docs,
		funnel.WithCompleterLogger(app.GetLogger("onboarding")),
	)

	app.poller = funnel.NewVerificationPoller(app.sessions, completer,
		funnel.WithPollInterval(app.config.PollInterval),
		funnel.WithPollLogger(app.GetLogger("poller")),
		funnel.OnVerified(func(identity *funnel.Identity) {
			app.GetLogger("poller").Info("onboarding complete, dashboard unlocked",
				"identity_id", identity.ID,
			)
		}),
		funnel.OnPollError(func(err error) {
			app.GetLogger("poller").Warn("verification poll error", "error", err)
		}),
	)

	return nil
}

func WithHTTPServer(ctx context.Context, app *App) error {
	templates, err := fs.Sub(viewsFS, "views")
	if err != nil {
		return err
	}

	engine := django.NewPathForwardingFileSystem(http.FS(templates), "/", ".html")

	srv := router.NewFiberAdapter(func(a *fiber.App) *fiber.App {
		return router.DefaultFiberOptions(fiber.New(fiber.Config{
			UnescapePath:      true,
			StrictRouting:     false,
			PassLocalsToViews: true,
			Views:             engine,
		}))
	})

	srv.Router().WithLogger(app.GetLogger("router"))
	srv.Router().Use(mflash.New(mflash.ConfigDefault))

	funnel.RegisterFunnelRoutes(srv.Router().Group("/"),
		func(fc *funnel.FunnelController) *funnel.FunnelController {
			fc.Debug = app.config.Debug
			fc.Sessions = app.sessions
			fc.Poller = app.poller
			fc.Logger = app.GetLogger("funnel:ctrl")
			return fc
		})

	// The emailed verification link lands here: the click happens in
	// another tab or device, outside the funnel's own navigation.
	srv.Router().Get("/verify/:token", VerifyLink(app)).SetName("verify-link.get")

	app.srv = srv
	return nil
}

func VerifyLink(app *App) func(c router.Context) error {
	return func(c router.Context) error {
		token := c.Param("token", "")

		identity, err := app.provider.Verify(c.Context(), token)
		if err != nil {
			app.GetLogger("verify").Error("verification link failed", "error", err)
			return c.Status(http.StatusBadRequest).Render("verify_link", router.ViewContext{
				"verified": false,
			})
		}

		app.GetLogger("verify").Info("email verified", "identity_id", identity.ID)
		return c.Render("verify_link", router.ViewContext{
			"verified": true,
			"email":    identity.Email,
		})
	}
}

func WaitExitSignal() os.Signal {
	ch := make(chan os.Signal, 3)
	signal.Notify(ch,
		syscall.SIGINT,
		syscall.SIGQUIT,
		syscall.SIGTERM,
	)
	return <-ch
}
