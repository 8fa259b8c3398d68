package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"github.com/suPer8Hu/foodsafety-linebot/internal/app"
	"github.com/suPer8Hu/foodsafety-linebot/internal/chat"
	"github.com/suPer8Hu/foodsafety-linebot/internal/config"
	"github.com/suPer8Hu/foodsafety-linebot/internal/httpapi"
	"github.com/suPer8Hu/foodsafety-linebot/internal/store/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg := config.Load()

	if cfg.LineChannelSecret == "" || cfg.LineAccessToken == "" {
		log.Fatalf("LINE_CHANNEL_SECRET and LINE_CHANNEL_ACCESS_TOKEN are required")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Close()

	switch cfg.DispatchMode {
	case "", config.DispatchInline:
	case config.DispatchRabbit:
		pub, err := rabbitmq.NewPublisher(cfg.RabbitURL, cfg.RabbitQueue)
		if err != nil {
			log.Fatalf("rabbit publisher: %v", err)
		}
		a.OnClose(pub.Close)
		a.Service.WithDispatcher(pub)
	default:
		log.Fatalf("unsupported DISPATCH_MODE=%q", cfg.DispatchMode)
	}

	srv := &http.Server{
		Addr:              ":" + cfg.Port,
		Handler:           httpapi.NewRouter(cfg, a.Service),
		ReadHeaderTimeout: 10 * time.Second,
	}

	go func() {
		log.Printf("server listening on :%s dispatch=%s", cfg.Port, cfg.DispatchMode)
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Fatalf("listen: %v", err)
		}
	}()

	<-ctx.Done()
	log.Printf("server shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Printf("shutdown: %v", err)
	}

	// let in-flight streams finish their pushes
	if d, ok := a.Service.Dispatcher().(*chat.InlineDispatcher); ok {
		d.Wait()
	}
}
