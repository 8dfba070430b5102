package main

import (
	"crypto/rand"
	"encoding/base64"
	"flag"
	"fmt"
	"log"
)

// keygen prints fresh values for SETTINGS_ENCRYPTION_KEY and
// SETTINGS_STATE_SIGNING_KEY.
func main() {
	size := flag.Int("bytes", 32, "key size in bytes for the state signing key")
	flag.Parse()

	encKey, err := randomKey(32)
	if err != nil {
		log.Fatalf("generate encryption key: %v", err)
	}
	stateKey, err := randomKey(*size)
	if err != nil {
		log.Fatalf("generate state signing key: %v", err)
	}

	fmt.Printf("SETTINGS_ENCRYPTION_KEY=%s\n", encKey)
	fmt.Printf("SETTINGS_STATE_SIGNING_KEY=%s\n", stateKey)
}

func randomKey(n int) (string, error) {
	if n < 16 {
		return "", fmt.Errorf("key size %d is too small", n)
	}
	buf := make([]byte, n)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return base64.StdEncoding.EncodeToString(buf), nil
}
