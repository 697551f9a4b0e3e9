// devtoken mints an access token for local testing of the meeting room API
// and the notification WebSocket.  It signs with JWT_SECRET from the
// environment (or .env) unless --secret is given.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"

	"github.com/iliyamo/meeting-sync/internal/utils"
)

func main() {
	if err := run(os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string) error {
	_ = godotenv.Load()

	var (
		userID uint64
		ttl    time.Duration
		secret string
	)
	flagSet := pflag.NewFlagSet("devtoken", pflag.ContinueOnError)
	flagSet.Uint64VarP(&userID, "user", "u", 0, "user number to put in the token subject")
	flagSet.DurationVar(&ttl, "ttl", time.Hour, "token lifetime")
	flagSet.StringVar(&secret, "secret", os.Getenv("JWT_SECRET"), "HS256 signing secret (default: $JWT_SECRET)")
	if err := flagSet.Parse(args); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	if userID == 0 {
		return fmt.Errorf("--user is required")
	}
	if secret == "" {
		return fmt.Errorf("no signing secret: set JWT_SECRET or pass --secret")
	}
	token, err := utils.NewAccessToken(secret, userID, ttl)
	if err != nil {
		return err
	}
	fmt.Println(token)
	return nil
}
