// Command issue-token mints a JWT signed with JWT_SECRET for operators and
// end-to-end runs. Credentials live in the course-management system, so the
// attempt engine itself never logs anyone in.
package main

import (
	"flag"
	"fmt"
	"os"

	"github.com/stemsi/exstem-cbt/internal/config"
	"github.com/stemsi/exstem-cbt/internal/logger"
	"github.com/stemsi/exstem-cbt/internal/service"
)

func main() {
	var (
		kind    string
		userID  int
		classID int
	)
	flag.StringVar(&kind, "type", "student", "Token type: student or admin")
	flag.IntVar(&userID, "id", 0, "Student or admin id")
	flag.IntVar(&classID, "class", 0, "Class id (students only)")
	flag.Parse()

	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()
	log := logger.Setup(cfg.LogLevel, cfg.LogFormat)

	if userID <= 0 {
		fmt.Fprintln(os.Stderr, "Error: -id is required")
		flag.Usage()
		os.Exit(2)
	}

	authService := service.NewAuthService(cfg.JWTSecret, cfg.JWTExpiry)

	var (
		token string
		err   error
	)
	switch service.TokenType(kind) {
	case service.TokenTypeStudent:
		token, err = authService.GenerateStudentToken(userID, classID)
	case service.TokenTypeAdmin:
		token, err = authService.GenerateAdminToken(userID)
	default:
		fmt.Fprintf(os.Stderr, "Error: unknown token type %q\n", kind)
		os.Exit(2)
	}
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to sign token")
	}

	log.Debug().Str("type", kind).Int("id", userID).Dur("expiry", cfg.JWTExpiry).Msg("Token issued")
	fmt.Println(token)
}
