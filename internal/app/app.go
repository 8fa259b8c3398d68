// Package app wires configuration into a ready chat.Service for the binaries.
package app

import (
	"context"
	"fmt"
	"log"

	"github.com/suPer8Hu/foodsafety-linebot/internal/ai"
	"github.com/suPer8Hu/foodsafety-linebot/internal/chat"
	"github.com/suPer8Hu/foodsafety-linebot/internal/config"
	"github.com/suPer8Hu/foodsafety-linebot/internal/db"
	"github.com/suPer8Hu/foodsafety-linebot/internal/line"
	"github.com/suPer8Hu/foodsafety-linebot/internal/shortcircuit"
	"github.com/suPer8Hu/foodsafety-linebot/internal/store/redisstore"
	"gorm.io/gorm"
)

type App struct {
	Cfg     config.Config
	DB      *gorm.DB
	Service *chat.Service

	closers []func() error
}

// New opens storage, resolves the backend provider and builds the chat service
// with the locker selected by LOCK_MODE. Dispatch stays inline; callers swap it.
func New(ctx context.Context, cfg config.Config) (*App, error) {
	gdb, err := db.Connect(cfg.DBDriver, cfg.DBDSN)
	if err != nil {
		return nil, err
	}
	fail := func(err error) (*App, error) {
		if sqlDB, derr := gdb.DB(); derr == nil {
			_ = sqlDB.Close()
		}
		return nil, err
	}
	if err := chat.AutoMigrate(gdb); err != nil {
		return fail(fmt.Errorf("automigrate: %w", err))
	}

	reg := ai.NewRegistry()
	reg.RegisterOllama(cfg.OllamaBaseURL, cfg.OllamaModel, cfg.OllamaStream)
	provider, err := reg.Get(ctx, cfg.AIProvider, cfg.OllamaModel)
	if err != nil {
		return fail(err)
	}

	transport := line.NewClient(cfg.LineAPIBase, cfg.LineAccessToken, cfg.LineTimeout)

	svc := chat.NewService(chat.NewRepo(gdb), provider, transport, chat.Options{
		ContextPairs:   cfg.ChatContextPairs,
		FlushBytes:     cfg.FlushBytes,
		FlushInterval:  cfg.FlushInterval,
		RequestTimeout: cfg.RequestTimeout,
		MaxConcurrent:  cfg.MaxConcurrentStreams,
	}).WithShortCircuits(
		shortcircuit.DefaultFAQ(),
		shortcircuit.NewNews(shortcircuit.DefaultNewsSource()),
	)

	a := &App{Cfg: cfg, DB: gdb, Service: svc}

	switch cfg.LockMode {
	case "", config.LockLocal:
	case config.LockRedis:
		rs := redisstore.NewStore(cfg.RedisAddr, cfg.RedisPassword, cfg.RedisDB)
		if err := rs.Ping(ctx); err != nil {
			_ = rs.Close()
			return fail(fmt.Errorf("redis ping: %w", err))
		}
		svc.WithLocker(rs)
		a.closers = append(a.closers, rs.Close)
	default:
		return fail(fmt.Errorf("unsupported LOCK_MODE=%q", cfg.LockMode))
	}

	log.Printf("[app] provider=%s model=%s stream=%t db=%s lock=%s",
		cfg.AIProvider, cfg.OllamaModel, cfg.OllamaStream, cfg.DBDriver, cfg.LockMode)
	return a, nil
}

// OnClose registers f to run on Close, in reverse order.
func (a *App) OnClose(f func() error) {
	a.closers = append(a.closers, f)
}

func (a *App) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			log.Printf("[app] close: %v", err)
		}
	}
	if sqlDB, err := a.DB.DB(); err == nil {
		_ = sqlDB.Close()
	}
}
