// Command devtoken mints an access token signed with JWT_SECRET for local
// testing.  Production tokens come from the identity service.
//
//	go run ./cmd/devtoken -sub alice -role CUSTOMER
package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/joho/godotenv"

	"github.com/iliyamo/travel-reservation/internal/middleware"
	"github.com/iliyamo/travel-reservation/internal/utils"
)

func main() {
	sub := flag.String("sub", "", "customer id or operator name placed in the sub claim")
	role := flag.String("role", middleware.RoleCustomer, "CUSTOMER or ADMIN")
	ttl := flag.Duration("ttl", time.Hour, "token lifetime")
	flag.Parse()

	_ = godotenv.Load()
	secret := os.Getenv("JWT_SECRET")
	if secret == "" {
		log.Fatal("JWT_SECRET is not set")
	}
	if *sub == "" {
		log.Fatal("-sub is required")
	}
	if *role != middleware.RoleCustomer && *role != middleware.RoleAdmin {
		log.Fatalf("unknown role %q", *role)
	}
	tok, err := utils.NewAccessToken(secret, *sub, *role, *ttl)
	if err != nil {
		log.Fatal(err)
	}
	fmt.Println(tok.Token)
	fmt.Fprintf(os.Stderr, "expires %s\n", tok.Exp.Format(time.RFC3339))
}
