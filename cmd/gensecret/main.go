// Command gensecret prints random key suitable for SECRET_KEY
package main

import (
	"crypto/rand"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/pflag"
)

// HS256 needs at least 256 bits of key
const minKeyBytes = 32

func main() {
	size := pflag.IntP("bytes", "n", minKeyBytes, "Key length in bytes")
	format := pflag.StringP("format", "f", "hex", "Output format (hex, base64)")
	pflag.Parse()

	key, err := generate(*size, *format)
	if err != nil {
		fmt.Fprintf(os.Stderr, "error while generating secret key: %v\n", err)
		os.Exit(1)
	}

	fmt.Println(key)
}

func generate(size int, format string) (string, error) {
	if size < minKeyBytes {
		return "", fmt.Errorf("key must be at least %d bytes, got %d", minKeyBytes, size)
	}

	b := make([]byte, size)
	if _, err := rand.Read(b); err != nil {
		return "", err
	}

	switch format {
	case "hex":
		return hex.EncodeToString(b), nil
	case "base64":
		return base64.RawURLEncoding.EncodeToString(b), nil
	default:
		return "", fmt.Errorf("unknown format %q", format)
	}
}
