package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"pulsechat/internal/app"
)

func main() {
	// missing .env is fine, flags and real env still apply
	_ = godotenv.Load()

	addr := flag.String("addr", getEnv("PULSECHAT_ADDR", ":8080"), "server listen address")
	wsPath := flag.String("ws-path", getEnv("PULSECHAT_WS_PATH", "/ws"), "websocket endpoint path")
	dbPath := flag.String("db", getEnv("PULSECHAT_DB_PATH", app.DefaultDBPath()), "sqlite database path")
	redisURL := flag.String("redis", getEnv("PULSECHAT_REDIS_URL", ""), "optional redis url for the presence mirror")
	flag.Parse()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	handle, err := app.RunServer(ctx, app.ServerConfig{
		Addr:     *addr,
		WSPath:   *wsPath,
		DBPath:   *dbPath,
		RedisURL: *redisURL,
	})
	if err != nil {
		log.Fatalf("server startup: %v", err)
	}

	log.Printf("pulsechat server listening on %s (ws %s)", handle.Addr(), *wsPath)
	if err := handle.Wait(); err != nil {
		log.Fatalf("server error: %v", err)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
