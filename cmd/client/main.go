package main

import (
	"flag"
	"log"
	"os"

	"github.com/joho/godotenv"

	"pulsechat/internal/app"
)

func main() {
	_ = godotenv.Load()

	serverURL := flag.String("server", getEnv("PULSECHAT_SERVER", "http://localhost:8080"), "server base URL")
	username := flag.String("user", getEnv("PULSECHAT_USER", ""), "username to prefill the login prompt")
	flag.Parse()

	err := app.RunClient(app.ClientConfig{
		ServerURL: *serverURL,
		Username:  *username,
	})
	if err != nil {
		log.Fatalf("client error: %v", err)
	}
}

func getEnv(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
