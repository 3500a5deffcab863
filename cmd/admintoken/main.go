// Command admintoken mints an admin bearer token for POST /clients, signed
// with ADMIN_JWT_SECRET.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/sirupsen/logrus"
	flag "github.com/spf13/pflag"

	"github.com/example/oauthapp/internal/adminauth"
	"github.com/example/oauthapp/internal/config"
)

func main() {
	var (
		subject = flag.StringP("subject", "s", "admin", "Subject claim of the token")
		ttl     = flag.Duration("ttl", time.Hour, "Token lifetime")
	)
	flag.Parse()

	log := logrus.New()

	cfg, err := config.New()
	if err != nil {
		log.WithError(err).Fatal("config error")
	}
	if cfg.AdminJWTSecret == "" {
		log.Fatal("ADMIN_JWT_SECRET is not set")
	}

	token, err := adminauth.Issue([]byte(cfg.AdminJWTSecret), *subject, *ttl, time.Now())
	if err != nil {
		log.WithError(err).Fatal("issue token")
	}
	fmt.Fprintln(os.Stdout, token)
}
