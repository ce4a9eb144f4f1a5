package main

import (
	"flag"
	"fmt"
	"log"
	"strings"
	"time"

	"kenmesh.org/internal/operator"
)

// Mints an operator JWT for the admin endpoints. Reads the signing
// secret from KENMESH_AUTH_SECRET, same as the API server.
func main() {
	log.SetFlags(0)
	var (
		operatorID = flag.String("operator", "", "Operator identity recorded as the token subject")
		scopes     = flag.String("scopes", "", "Comma-separated scopes (e.g. credentials.admin,mesh.admin)")
		ttl        = flag.Duration("ttl", time.Hour, "Token lifetime")
	)
	flag.Parse()

	if *operatorID == "" {
		log.Fatal("missing -operator")
	}
	var scopeList []string
	for _, s := range strings.Split(*scopes, ",") {
		if s = strings.TrimSpace(s); s != "" {
			scopeList = append(scopeList, s)
		}
	}
	if len(scopeList) == 0 {
		log.Fatal("missing -scopes: a token without scopes cannot reach any admin endpoint")
	}

	token, err := operator.GenerateToken(*operatorID, scopeList, *ttl)
	if err != nil {
		log.Fatalf("mint token: %v", err)
	}
	fmt.Println(token)
}
