// Command devtoken prints a signed access token for a user id, for calling
// the API locally with AUTH_MODE=jwt.
//
//	JWT_SECRET=... go run ./cmd/devtoken -user 1
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/fkhayef/settleup/pkg/logging"
	"github.com/fkhayef/settleup/pkg/middleware"
)

func main() {
	userID := flag.Int64("user", 0, "user id to issue the token for")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	logging.Setup(os.Getenv("LOG_LEVEL"), "text")

	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		slog.Error("JWT_SECRET is not set")
		os.Exit(1)
	}
	if *userID <= 0 {
		slog.Error("a positive -user is required")
		os.Exit(2)
	}

	token, err := middleware.NewTokenManager(secret, *ttl).Generate(*userID)
	if err != nil {
		slog.Error("failed to sign token", "error", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
