// Command bootstrap-worker-token provisions a clip worker credential in the datastore.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"
	"time"

	"clipforge/internal/clipper"
	"clipforge/internal/storage"
)

func main() {
	var (
		jsonPath    string
		postgresDSN string
		name        string
		token       string
		rotate      bool
	)

	flag.StringVar(&jsonPath, "json", "", "Path to the JSON datastore (store.json)")
	flag.StringVar(&postgresDSN, "postgres-dsn", "", "Postgres connection string")
	flag.StringVar(&name, "name", "", "Name for the worker credential")
	flag.StringVar(&token, "token", "", "Bearer token to register (generated when omitted)")
	flag.BoolVar(&rotate, "rotate", false, "Revoke an existing credential with the same name first")
	flag.Parse()

	if jsonPath == "" && postgresDSN == "" {
		fatalf("either --json or --postgres-dsn must be provided")
	}
	if jsonPath != "" && postgresDSN != "" {
		fatalf("only one datastore option may be provided")
	}
	name = strings.TrimSpace(name)
	if name == "" {
		fatalf("--name is required")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	repo, err := openRepository(ctx, jsonPath, postgresDSN)
	if err != nil {
		fatalf("open datastore: %v", err)
	}
	defer closeRepository(repo)

	secret := strings.TrimSpace(token)
	generated := secret == ""
	if generated {
		secret, err = storage.GenerateWorkerSecret()
		if err != nil {
			fatalf("generate worker secret: %v", err)
		}
	}

	existing, err := repo.ListWorkerTokens(ctx)
	if err != nil {
		fatalf("list worker tokens: %v", err)
	}
	for _, current := range existing {
		if current.Name != name {
			continue
		}
		if !rotate {
			fatalf("worker credential %q already exists; pass --rotate to replace it", name)
		}
		if err := repo.DeleteWorkerToken(ctx, current.ID); err != nil {
			fatalf("revoke worker token %s: %v", current.ID, err)
		}
	}

	digest, err := clipper.HashToken(secret)
	if err != nil {
		fatalf("hash worker token: %v", err)
	}
	created, err := repo.CreateWorkerToken(ctx, name, digest)
	if err != nil {
		fatalf("create worker token: %v", err)
	}

	fmt.Printf("Worker credential %s (%s) created.\n", created.Name, created.ID)
	if generated {
		fmt.Printf("Bearer token (shown once, store it now): %s\n", secret)
	} else {
		fmt.Println("The provided token was registered; only its digest is stored.")
	}
}

func fatalf(format string, args ...any) {
	fmt.Fprintf(os.Stderr, format+"\n", args...)
	os.Exit(1)
}

func openRepository(ctx context.Context, jsonPath, postgresDSN string) (storage.Repository, error) {
	if jsonPath != "" {
		return storage.NewStorage(jsonPath)
	}
	return storage.NewPostgresRepository(ctx, storage.PostgresConfig{DSN: postgresDSN})
}

func closeRepository(repo storage.Repository) {
	type closer interface {
		Close(context.Context) error
	}
	if c, ok := repo.(closer); ok {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = c.Close(ctx)
	}
}
