package main

import (
	"context"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"survey-management-backend/cache"
	"survey-management-backend/database"
	"survey-management-backend/handlers"
	"survey-management-backend/mq"
	"survey-management-backend/routes"
	"survey-management-backend/websocket"
)

func main() {
	if err := database.InitDB(); err != nil {
		log.Fatalf("failed to initialize database: %v", err)
	}

	// Redis is optional; without it the service degrades to direct database
	// access, synchronous notifications and in-process rate limiting.
	if err := cache.InitRedis(); err != nil {
		log.Printf("warning: Redis initialization failed: %v", err)
	}
	cache.InitDistLock()

	mqAdapter := mq.NewMQAdapter()
	if err := mqAdapter.Initialize(); err != nil {
		log.Printf("warning: notification queue unavailable, using synchronous delivery: %v", err)
	}
	dispatcher := mq.InitDispatcher(database.DB, mqAdapter, mq.LogMailer{})

	hub := websocket.NewHub()
	go hub.Run()

	handlers.InitHandler(dispatcher, hub)

	router := routes.SetupRouter(websocket.NewHandler(hub))
	srv := routes.StartServer(router)

	log.Printf("notification queue: %v", mqAdapter.GetQueueStats())

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit
	log.Println("shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		log.Fatalf("forced server shutdown: %v", err)
	}

	database.CloseDB()
	cache.CloseRedis()
	mqAdapter.Close()

	log.Println("server stopped")
}
