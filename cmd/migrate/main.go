package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"time"

	"tasktrail.org/internal/config"
	"tasktrail.org/internal/migrate"
	"tasktrail.org/internal/obs"
	"tasktrail.org/internal/store/sqlstore"
)

func main() {
	log := obs.Logger()
	config.LoadDotEnv()
	var (
		driver = flag.String("driver", envOr("TASKTRAIL_DB_DRIVER", "pgx"), "database/sql driver: pgx, postgres or sqlite3")
		dsn    = flag.String("dsn", os.Getenv("TASKTRAIL_DB_DSN"), "database DSN")
	)
	flag.Parse()

	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or TASKTRAIL_DB_DSN")
	}
	if len(flag.Args()) == 0 {
		log.Fatal("usage: migrate [up|down|status|pending]")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	st, err := sqlstore.Open(*driver, *dsn)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer st.Close()

	files, err := migrate.Bundled(st.Dialect())
	if err != nil {
		log.WithError(err).Fatal("load migrations")
	}
	mgr := migrate.NewManager(st.DB(), files)

	var items []string
	switch flag.Arg(0) {
	case "up":
		items, err = mgr.Up(ctx)
	case "down":
		var name string
		name, err = mgr.Down(ctx)
		if name != "" {
			items = []string{name}
		}
	case "status":
		items, err = mgr.Status(ctx)
	case "pending":
		items, err = mgr.Pending(ctx)
	default:
		log.Fatalf("unknown command %q", flag.Arg(0))
	}
	if err != nil {
		log.WithError(err).Fatalf("migrate %s", flag.Arg(0))
	}
	for _, item := range items {
		fmt.Println(item)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
