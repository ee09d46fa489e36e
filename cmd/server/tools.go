package main

import (
	"fmt"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/stwalsh4118/verrify/internal/authz"
	"github.com/stwalsh4118/verrify/internal/caseid"
	"github.com/stwalsh4118/verrify/internal/middleware"
)

var caseIDCommand = &cli.Command{
	Name:  "caseid",
	Usage: "Print the case id that follows a given one",
	Flags: []cli.Flag{
		&cli.IntFlag{
			Name:  "year",
			Usage: "Year the case id is issued in",
			Value: time.Now().UTC().Year(),
		},
		&cli.StringFlag{
			Name:  "after",
			Usage: "Highest case id already issued in that year",
		},
	},
	Action: func(c *cli.Context) error {
		id, err := caseid.Next(c.String("after"), c.Int("year"))
		if err != nil {
			return err
		}
		fmt.Println(id)
		return nil
	},
}

var tokenCommand = &cli.Command{
	Name:  "token",
	Usage: "Issue a signed access token for local testing",
	Flags: []cli.Flag{
		&cli.StringFlag{Name: "secret", Usage: "HMAC signing secret", EnvVars: []string{"AUTH_JWT_SECRET"}, Required: true},
		&cli.StringFlag{Name: "issuer", Usage: "Token issuer", EnvVars: []string{"AUTH_JWT_ISSUER"}},
		&cli.StringFlag{Name: "user", Usage: "Subject user id", Required: true},
		&cli.StringFlag{Name: "role", Usage: "USER, SUPPORT, ADMIN or SUPER_ADMIN", Value: string(authz.RoleUser)},
		&cli.StringFlag{Name: "email", Usage: "Email claim used for notifications and checkout"},
		&cli.DurationFlag{Name: "ttl", Usage: "Token lifetime", Value: time.Hour},
	},
	Action: func(c *cli.Context) error {
		verifier := middleware.NewTokenVerifier(c.String("secret"), c.String("issuer"))
		tok, err := verifier.Issue(c.String("user"), authz.ParseRole(c.String("role")), c.String("email"), c.Duration("ttl"))
		if err != nil {
			return err
		}
		fmt.Println(tok)
		return nil
	},
}
