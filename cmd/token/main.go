// Command token mints a member bearer token signed with JWT_SECRET. It is how the
// first admin token of a deployment is obtained.
package main

import (
	"flag"
	"fmt"
	"io"
	"os"

	"github.com/kelseyhightower/envconfig"
	"github.com/lowc1012/bucket-limiter/internal/auth"
	"github.com/lowc1012/bucket-limiter/internal/log"
	"github.com/pkg/errors"
	"go.uber.org/zap"
)

type secretConfig struct {
	JwtSecret string `envconfig:"JWT_SECRET" required:"true"`
}

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		log.Init(log.Options{}).Fatal("Failed to issue token", zap.Error(err))
	}
}

func run(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("token", flag.ContinueOnError)
	fs.SetOutput(out)
	memberId := fs.Int64("member", 0, "member id the token is issued for")
	admin := fs.Bool("admin", false, "grant admin rights")
	if err := fs.Parse(args); err != nil {
		return err
	}
	if *memberId <= 0 {
		return errors.New("-member must be a positive id")
	}

	var cfg secretConfig
	if err := envconfig.Process("", &cfg); err != nil {
		return errors.WithMessage(err, "process env")
	}

	token, err := auth.NewAuthenticator(cfg.JwtSecret).Issue(*memberId, *admin)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(out, token)
	return err
}
