package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	amqp "github.com/rabbitmq/amqp091-go"
	"github.com/suPer8Hu/foodsafety-linebot/internal/app"
	"github.com/suPer8Hu/foodsafety-linebot/internal/chat"
	"github.com/suPer8Hu/foodsafety-linebot/internal/config"
	"github.com/suPer8Hu/foodsafety-linebot/internal/store/rabbitmq"
)

func main() {
	if err := godotenv.Load(); err != nil {
		log.Printf("no .env file loaded: %v", err)
	}
	cfg := config.Load()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := app.New(ctx, cfg)
	if err != nil {
		log.Fatalf("init: %v", err)
	}
	defer a.Close()
	svc := a.Service

	conn, err := amqp.Dial(cfg.RabbitURL)
	if err != nil {
		log.Fatalf("rabbit dial: %v", err)
	}
	defer conn.Close()

	ch, err := conn.Channel()
	if err != nil {
		log.Fatalf("rabbit channel: %v", err)
	}
	defer ch.Close()

	if err := rabbitmq.DeclareTopology(ch, cfg.RabbitQueue); err != nil {
		log.Fatalf("queue declare: %v", err)
	}

	concurrency := cfg.WorkerConcurrency
	if err := ch.Qos(concurrency, 0, false); err != nil {
		log.Fatalf("qos: %v", err)
	}

	msgs, err := ch.Consume(cfg.RabbitQueue, "", false, false, false, false, nil)
	if err != nil {
		log.Fatalf("consume: %v", err)
	}

	log.Printf("worker started, queue=%s concurrency=%d lock=%s", cfg.RabbitQueue, concurrency, cfg.LockMode)

	// worker pool
	jobs := make(chan amqp.Delivery, concurrency*2)

	// tasks finish their pushes even after a shutdown signal
	taskCtx := context.WithoutCancel(ctx)

	var wg sync.WaitGroup
	wg.Add(concurrency)
	for i := 0; i < concurrency; i++ {
		go func(workerID int) {
			defer wg.Done()
			for d := range jobs {
				handleDelivery(taskCtx, svc, workerID, d)
			}
		}(i)
	}

	feed(ctx, msgs, jobs)
	log.Printf("worker shutting down")
	close(jobs)
	wg.Wait()
}

// feed moves deliveries to the worker pool until ctx is done or msgs closes. A
// delivery still waiting for a free worker at shutdown is requeued.
func feed(ctx context.Context, msgs <-chan amqp.Delivery, jobs chan<- amqp.Delivery) {
	for {
		select {
		case <-ctx.Done():
			return

		case d, ok := <-msgs:
			if !ok {
				log.Printf("delivery channel closed")
				return
			}
			select {
			case jobs <- d:
			case <-ctx.Done():
				_ = d.Nack(false, true)
				return
			}
		}
	}
}

// handleDelivery acks a task once it succeeds. Failed tasks are dead-lettered,
// not retried.
func handleDelivery(ctx context.Context, svc *chat.Service, workerID int, d amqp.Delivery) {
	t, err := rabbitmq.DecodeTask(d.Body)
	if err != nil {
		log.Printf("worker=%d bad message: %v", workerID, err)
		_ = d.Nack(false, false)
		return
	}

	start := time.Now()
	if err := svc.Process(ctx, t); err != nil {
		log.Printf("worker=%d job %s failed cost=%s err=%v", workerID, t.JobID, time.Since(start), err)
		_ = d.Nack(false, false)
		return
	}

	if err := d.Ack(false); err != nil {
		log.Printf("worker=%d ack failed job=%s err=%v", workerID, t.JobID, err)
	}
}
