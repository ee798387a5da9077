// sealsecret шифрует ключи площадки для конфигурации
//
//	sealsecret -generate-key
//	echo -n "$API_SECRET" | CREDENTIALS_KEY=... sealsecret
package main

import (
	"bufio"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"

	"papertrade/pkg/crypto"
)

func main() {
	generate := flag.Bool("generate-key", false, "print a new random CREDENTIALS_KEY and exit")
	flag.Parse()

	if *generate {
		key, err := crypto.GenerateKey()
		if err != nil {
			fail(err)
		}
		fmt.Println(key)
		return
	}

	key, err := crypto.ParseKey(os.Getenv("CREDENTIALS_KEY"))
	if err != nil {
		fail(fmt.Errorf("CREDENTIALS_KEY: %w", err))
	}

	data, err := io.ReadAll(bufio.NewReader(os.Stdin))
	if err != nil {
		fail(err)
	}
	value := strings.TrimRight(string(data), "\r\n")
	if value == "" {
		fail(fmt.Errorf("nothing to seal: stdin is empty"))
	}

	sealed, err := crypto.SealSecret(value, key)
	if err != nil {
		fail(err)
	}
	fmt.Println(sealed)
}

func fail(err error) {
	fmt.Fprintf(os.Stderr, "sealsecret: %v\n", err)
	os.Exit(1)
}
