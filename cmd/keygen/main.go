package main

import (
	"flag"
	"fmt"
	"log"
	"os"
	"time"

	"github.com/google/uuid"
	"gopkg.in/yaml.v3"

	"github.com/af-corp/hearth/internal/auth"
	"github.com/af-corp/hearth/internal/config"
	"github.com/af-corp/hearth/internal/types"
)

func main() {
	name := flag.String("name", "", "human-friendly key name, e.g. the device it is installed on (required)")
	env := flag.String("env", "home", "environment prefix")
	maxMode := flag.String("max-mode", string(types.ModeGuest), "highest mode the key may use: guest or owner")
	expires := flag.String("expires", "365d", "expiry duration (e.g., 365d, 720h, 0 for never)")
	flag.Parse()

	if *name == "" {
		flag.Usage()
		fmt.Fprintln(os.Stderr, "\nerror: -name is required")
		os.Exit(1)
	}

	mode, ok := types.ParseMode(*maxMode)
	if !ok {
		log.Fatalf("invalid max-mode %q (use guest or owner)", *maxMode)
	}

	rawKey, err := auth.GenerateKey(*env)
	if err != nil {
		log.Fatalf("failed to generate key: %v", err)
	}

	entry := config.APIKeyConfig{
		ID:      uuid.NewString(),
		Name:    *name,
		Hash:    auth.HashKey(rawKey),
		MaxMode: string(mode),
	}
	if *expires != "0" {
		dur, err := auth.ParseDuration(*expires)
		if err != nil {
			log.Fatalf("invalid expires: %v", err)
		}
		entry.ExpiresAt = time.Now().UTC().Add(dur).Truncate(time.Second)
	}

	snippet, err := yaml.Marshal([]config.APIKeyConfig{entry})
	if err != nil {
		log.Fatalf("failed to render config entry: %v", err)
	}

	fmt.Println("=== hearth API key generated ===")
	fmt.Println()
	fmt.Printf("  Key ID:     %s\n", entry.ID)
	fmt.Printf("  Key Prefix: %s\n", auth.KeyPrefix(rawKey))
	fmt.Printf("  Max Mode:   %s\n", entry.MaxMode)
	if !entry.ExpiresAt.IsZero() {
		fmt.Printf("  Expires:    %s\n", entry.ExpiresAt.Format(time.RFC3339))
	}
	fmt.Println()
	fmt.Println("  API Key (save this, it will NOT be shown again):")
	fmt.Printf("  %s\n", rawKey)
	fmt.Println()
	fmt.Println("  Add under auth.keys in hearth.yaml:")
	fmt.Println()
	fmt.Print(string(snippet))
	fmt.Println("================================")
}
