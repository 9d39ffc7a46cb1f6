// Command token mints a signed identity token for local development.
package main

import (
	"flag"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/umar/carechat/internal/auth"
	"github.com/umar/carechat/internal/config"
	"github.com/umar/carechat/internal/models"
)

func main() {
	id := flag.String("id", "", "user id (required)")
	name := flag.String("name", "", "display name")
	email := flag.String("email", "", "email")
	ttl := flag.Duration("ttl", 24*time.Hour, "token lifetime")
	flag.Parse()

	if *id == "" {
		flag.Usage()
		os.Exit(2)
	}

	cfg, err := config.Load()
	if err != nil {
		slog.Error("failed to load config", "error", err)
		os.Exit(1)
	}

	token, err := auth.GenerateToken(models.User{ID: *id, DisplayName: *name, Email: *email}, cfg.JWTSecret, *ttl)
	if err != nil {
		slog.Error("failed to generate token", "error", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
