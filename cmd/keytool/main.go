// Command keytool manages the relayer key file and signs internal requests.
//
//	keytool seal -out relayer.key            # key and password from env
//	keytool address -in relayer.key -chain-id 56
//	keytool sign -path /api/match -body '{"orderId":"..."}'
package main

import (
	"bufio"
	"flag"
	"fmt"
	"net/http"
	"os"
	"strings"

	"github.com/joho/godotenv"

	"github.com/AceBoss1/afrodex-exchange/internal/crypto"
)

func main() {
	_ = godotenv.Load()
	if len(os.Args) < 2 {
		usage()
	}
	var err error
	switch os.Args[1] {
	case "seal":
		err = seal(os.Args[2:])
	case "address":
		err = address(os.Args[2:])
	case "sign":
		err = sign(os.Args[2:])
	default:
		usage()
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "keytool: %v\n", err)
		os.Exit(1)
	}
}

func usage() {
	fmt.Fprintln(os.Stderr, "usage: keytool seal|address|sign [flags]")
	os.Exit(2)
}

// seal encrypts AFRODEX_RELAYER_PRIVATE_KEY (or a key read from stdin) with
// AFRODEX_RELAYER_KEY_PASSWORD.
func seal(args []string) error {
	fs := flag.NewFlagSet("seal", flag.ExitOnError)
	out := fs.String("out", "relayer.key", "output file")
	iterations := fs.Int("iterations", crypto.DefaultKDFIterations, "PBKDF2 iterations")
	fs.Parse(args)

	key := os.Getenv("AFRODEX_RELAYER_PRIVATE_KEY")
	if key == "" {
		fmt.Fprint(os.Stderr, "private key (hex): ")
		line, err := bufio.NewReader(os.Stdin).ReadString('\n')
		if err != nil && line == "" {
			return fmt.Errorf("read key: %w", err)
		}
		key = strings.TrimSpace(line)
	}
	password := os.Getenv("AFRODEX_RELAYER_KEY_PASSWORD")
	if password == "" {
		return fmt.Errorf("AFRODEX_RELAYER_KEY_PASSWORD must be set")
	}
	if _, err := crypto.NewSigner(key, 1); err != nil {
		return err
	}

	blob, err := crypto.SealKey(key, password, *iterations)
	if err != nil {
		return err
	}
	if err := os.WriteFile(*out, blob, 0o600); err != nil {
		return fmt.Errorf("write %s: %w", *out, err)
	}
	fmt.Printf("sealed key written to %s\n", *out)
	return nil
}

// address prints the relayer account of a sealed key file.
func address(args []string) error {
	fs := flag.NewFlagSet("address", flag.ExitOnError)
	in := fs.String("in", "relayer.key", "sealed key file")
	chainID := fs.Int64("chain-id", 1, "chain id")
	fs.Parse(args)

	signer, err := crypto.LoadRelayerSigner(crypto.KeySource{
		EncryptedKeyPath: *in,
		KeyPassword:      os.Getenv("AFRODEX_RELAYER_KEY_PASSWORD"),
	}, *chainID)
	if err != nil {
		return err
	}
	fmt.Println(signer.Address().Hex())
	return nil
}

// sign prints the headers for an HMAC-signed internal request, using
// AFRODEX_SERVER_INTERNAL_SECRET.
func sign(args []string) error {
	fs := flag.NewFlagSet("sign", flag.ExitOnError)
	method := fs.String("method", http.MethodPost, "HTTP method")
	path := fs.String("path", "/api/match", "request path")
	body := fs.String("body", "", "request body")
	fs.Parse(args)

	secret := os.Getenv("AFRODEX_SERVER_INTERNAL_SECRET")
	if secret == "" {
		return fmt.Errorf("AFRODEX_SERVER_INTERNAL_SECRET must be set")
	}
	headers := crypto.NewRequestSigner(secret, 0).Headers(*method, *path, []byte(*body))
	for _, k := range []string{crypto.HeaderTimestamp, crypto.HeaderSignature} {
		fmt.Printf("%s: %s\n", k, headers[k])
	}
	return nil
}
