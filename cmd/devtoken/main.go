// Command devtoken prints an HS256 bearer token for local development
// against a server running with JWT_SECRET.
package main

import (
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"
	"github.com/spf13/pflag"
	"github.com/stwalsh4118/moveit/internal/auth"
)

func main() {
	_ = godotenv.Load()

	subject := pflag.StringP("subject", "s", "", "user id to put in the sub claim (required)")
	role := pflag.StringP("role", "r", string(auth.RoleSeller), "role claim: seller, buyer, admin or vendor")
	ttl := pflag.DurationP("ttl", "t", 12*time.Hour, "token lifetime")
	secret := pflag.String("secret", os.Getenv("JWT_SECRET"), "signing secret (defaults to $JWT_SECRET)")
	pflag.Parse()

	if *subject == "" {
		fmt.Fprintln(os.Stderr, "devtoken: --subject is required")
		pflag.Usage()
		os.Exit(2)
	}

	parsed, err := auth.ParseRole(*role)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(2)
	}

	token, err := auth.IssueToken(*secret, auth.Actor{ID: *subject, Role: parsed}, *ttl, time.Now())
	if err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(1)
	}
	fmt.Println(token)
}
