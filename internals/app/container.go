package app

import (
	"context"
	"fmt"

	"vigil/config"
	middle "vigil/internals/middleware"
	"vigil/internals/modules/dispatch"
	"vigil/internals/modules/monitor"
	"vigil/internals/modules/sweeper"
	"vigil/internals/modules/user"
	"vigil/internals/security"
	"vigil/internals/storage"
	"vigil/internals/storage/postgres"
	"vigil/internals/storage/sqlite"
	"vigil/pkg/httpclient"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"
)

type Container struct {
	Store          storage.Store
	Logger         *zerolog.Logger
	Sweeper        *sweeper.Sweeper
	userHandler    *user.Handler
	monitorHandler *monitor.Handler
	authMW         *middle.AuthMiddleware
}

func NewContainer(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (*Container, error) {

	store, err := newStore(ctx, cfg, logger)
	if err != nil {
		return nil, err
	}

	validate := validator.New()

	tokenSvc := security.NewTokenService(cfg.Auth)

	userSvc := user.NewService(store, tokenSvc, logger)
	monitorSvc := monitor.NewService(store, logger)

	dispatcher := dispatch.NewDispatcher(store, httpclient.NewHttpClient(), cfg.Sweeper.DispatchTimeout, logger)
	sw := sweeper.NewSweeper(store, dispatcher, cfg.Sweeper.Interval, cfg.Sweeper.MaxConcurrent, logger)

	userHandler := user.NewHandler(userSvc, validate)
	monitorHandler := monitor.NewHandler(monitorSvc, validate, cfg.BaseURL)

	authMW := middle.NewAuthMiddleware(cfg.AdminKey, tokenSvc, store)

	return &Container{
		Store:          store,
		Logger:         logger,
		Sweeper:        sw,
		userHandler:    userHandler,
		monitorHandler: monitorHandler,
		authMW:         authMW,
	}, nil
}

func newStore(ctx context.Context, cfg *config.Config, logger *zerolog.Logger) (storage.Store, error) {
	switch cfg.DB.Driver {
	case "postgres":
		return postgres.New(ctx, cfg.DB, logger)
	case "sqlite":
		return sqlite.New(ctx, cfg.DB.URL)
	default:
		return nil, fmt.Errorf("unknown db driver %q", cfg.DB.Driver)
	}
}

func (c *Container) Shutdown() error {
	if c.Store != nil {
		return c.Store.Close()
	}
	return nil
}
