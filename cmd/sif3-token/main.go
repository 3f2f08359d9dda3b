// Command sif3-token prints the Authorization and timestamp headers a SIF
// client would send, for use with curl against a running broker.
package main

import (
	"fmt"
	"os"

	"sif3.org/internal/auth"
)

func main() {
	if len(os.Args) < 2 {
		usage()
	}
	switch os.Args[1] {
	case "header":
		runHeader()
	default:
		usage()
	}
}

func runHeader() {
	if len(os.Args) < 5 {
		usage()
	}
	method, err := auth.ParseMethod(os.Args[2])
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	var gen auth.Authenticator
	switch method {
	case auth.MethodBasic:
		gen = auth.Basic{}
	case auth.MethodHMACSHA256:
		gen = auth.NewHMAC()
	case auth.MethodBearer:
		gen = auth.NewBearer()
	}

	tok, err := gen.Generate(os.Args[3], os.Args[4])
	if err != nil {
		fmt.Fprintf(os.Stderr, "generate %s token failed: %v\n", method, err)
		os.Exit(1)
	}
	fmt.Printf("Authorization: %s\n", tok.Authorization())
	if tok.Timestamp != "" {
		fmt.Printf("timestamp: %s\n", tok.Timestamp)
	}
}

func usage() {
	fmt.Fprintf(os.Stderr, "usage: %s header <Basic|SIF_HMACSHA256|Bearer> <session-token> <shared-secret>\n", os.Args[0])
	os.Exit(1)
}
