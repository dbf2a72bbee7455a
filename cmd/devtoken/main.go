// Command devtoken prints an identity token for a user id, signed with the
// configured IDENTITY_JWT_SECRET, for calling the API locally.
package main

import (
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"time"

	"github.com/joho/godotenv"
	config "github.com/videoblade/videoblade-api/configs"
	"github.com/videoblade/videoblade-api/pkg/utils"
)

func main() {
	_ = godotenv.Load()
	if err := run(os.Args[1:], config.LoadConfig(), os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "devtoken:", err)
		os.Exit(1)
	}
}

func run(args []string, cfg *config.Config, out io.Writer) error {
	fs := flag.NewFlagSet("devtoken", flag.ContinueOnError)
	userID := fs.String("user", "", "user id to put in the token subject")
	ttl := fs.Duration("ttl", time.Hour, "token lifetime")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *userID == "" {
		return errors.New("-user is required")
	}
	if cfg.IdentitySecret == "" {
		return errors.New("IDENTITY_JWT_SECRET is not set")
	}

	token, err := utils.GenerateToken(cfg.IdentitySecret, cfg.IdentityIssuer, *userID, *ttl)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
