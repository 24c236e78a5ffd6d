// Command devtoken mints a relay access token for local testing.
//
//	JWT_SECRET=dev devtoken -id 42 -email a@example.com -name Alice
package main

import (
	"flag"
	"fmt"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/Tyrowin/gorelay/internal/auth"
)

func main() {
	_ = godotenv.Load()

	var (
		id     = flag.String("id", "", "user id (required)")
		email  = flag.String("email", "", "email claim")
		name   = flag.String("name", "", "name claim")
		ttl    = flag.Duration("ttl", auth.DefaultTTL, "token lifetime")
		secret = flag.String("secret", os.Getenv("JWT_SECRET"), "HMAC secret (default $JWT_SECRET)")
		alg    = flag.String("alg", envOr("JWT_ALG", "HS256"), "signing algorithm")
	)
	flag.Parse()

	if *id == "" || *secret == "" {
		flag.Usage()
		os.Exit(2)
	}

	token, exp, err := auth.Issue(
		auth.Options{Secret: []byte(*secret), Alg: *alg, TTL: *ttl},
		auth.Identity{UserID: *id, Email: *email, Name: *name},
	)
	if err != nil {
		fmt.Fprintf(os.Stderr, "devtoken: %v\n", err)
		os.Exit(1)
	}
	fmt.Fprintf(os.Stderr, "expires %s\n", exp.Format(time.RFC3339))
	fmt.Println(token)
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
