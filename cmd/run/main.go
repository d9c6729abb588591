package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"github.com/reposhub/reposhub/cfg"
	"github.com/reposhub/reposhub/internal/backend/github"
	"github.com/reposhub/reposhub/internal/model"
	"github.com/reposhub/reposhub/internal/queue"
	"github.com/reposhub/reposhub/internal/token"
	"github.com/reposhub/reposhub/pkg/db"
	"github.com/reposhub/reposhub/pkg/log"
)

// cmd/run migrates the database and seeds work: it can register a token in
// the pool and enqueue a root fetch request for an account or repository.
func main() {
	kind := flag.String("kind", "account", "Kind of entity to fetch (account, repository)")
	slug := flag.String("slug", "", "Account login, or repository project as \"owner/name\"")
	depth := flag.Int("depth", -1, "Traversal depth, defaults to the configured maximum")
	tokenLogin := flag.String("token-login", "", "Login of a token to register in the pool")
	tokenSecret := flag.String("token-secret", "", "Secret of the token to register")
	flag.Parse()

	ctx := context.Background()
	loader, _ := cfg.NewViperLoader()
	config, err := loader.Load()
	if err != nil {
		fmt.Printf("Failed to load config: %v\n", err)
		os.Exit(1)
	}
	logger, _ := log.NewCslLogger()
	mysql, err := db.NewMysql(config)
	if err != nil {
		logger.Error(ctx, "Failed to connect to database: %v", err)
		os.Exit(1)
	}

	accountMd, _ := model.NewAccount(config, logger, mysql)
	repoMd, _ := model.NewRepo(config, logger, mysql)

	// Migrate database
	if err := mysql.Migrate(accountMd, repoMd, &token.Token{}); err != nil {
		logger.Error(ctx, "Failed to migrate database: %v", err)
		os.Exit(1)
	}

	if *tokenLogin != "" && *tokenSecret != "" {
		store, _ := token.NewGormStore(config, logger, mysql)
		tok := &token.Token{
			Backend: github.Name,
			Login:   *tokenLogin,
			Secret:  *tokenSecret,
			Status:  token.StatusOK,
		}
		if err := store.Create(ctx, tok); err != nil {
			logger.Error(ctx, "Failed to register token: %v", err)
			os.Exit(1)
		}
		logger.Info(ctx, "Registered token %s", tok.UID)
	}

	if *slug == "" {
		return
	}

	var entity model.Syncable
	switch *kind {
	case "account":
		entity, err = accountMd.GetOrCreate(ctx, github.Name, *slug, nil)
	case "repository":
		entity, err = repoMd.GetOrCreate(ctx, github.Name, *slug, nil)
	default:
		logger.Error(ctx, "Unknown entity kind: %s", *kind)
		os.Exit(1)
	}
	if err != nil {
		logger.Error(ctx, "Failed to resolve %s %q: %v", *kind, *slug, err)
		os.Exit(1)
	}

	if *depth < 0 || *depth > config.Fetcher.MaxDepth {
		*depth = config.Fetcher.MaxDepth
	}

	q, err := queue.NewKafkaQueue(config, logger)
	if err != nil {
		logger.Error(ctx, "Failed to build queue: %v", err)
		os.Exit(1)
	}
	defer q.Close()

	msg := model.FetchMessage{Object: entity.Ref().String(), Depth: *depth}
	if err := q.EnqueueFetch(ctx, msg); err != nil {
		logger.Error(ctx, "Failed to enqueue fetch request: %v", err)
		os.Exit(1)
	}
	logger.Info(ctx, "Enqueued fetch of %s at depth %d", msg.Object, msg.Depth)
}
