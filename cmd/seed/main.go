package main

import (
	"context"
	"flag"
	"os"
	"time"

	"github.com/sirupsen/logrus"

	"tasktrail.org/internal/config"
	"tasktrail.org/internal/obs"
	"tasktrail.org/internal/seed"
	"tasktrail.org/internal/store/sqlstore"
)

func main() {
	log := obs.Logger()
	config.LoadDotEnv()
	var (
		file   = flag.String("file", "seeds.yaml", "YAML seed file")
		driver = flag.String("driver", os.Getenv("TASKTRAIL_DB_DRIVER"), "database/sql driver: pgx, postgres or sqlite3")
		dsn    = flag.String("dsn", os.Getenv("TASKTRAIL_DB_DSN"), "database DSN")
		up     = flag.Bool("migrate", false, "apply bundled migrations first")
	)
	flag.Parse()

	if *driver == "" {
		*driver = "pgx"
	}
	if *dsn == "" {
		log.Fatal("missing DSN: provide via -dsn or TASKTRAIL_DB_DSN")
	}

	f, err := seed.ParseFile(*file)
	if err != nil {
		log.WithError(err).Fatal("parse seed file")
	}

	ctx, cancel := context.WithTimeout(context.Background(), time.Minute)
	defer cancel()

	st, err := sqlstore.Open(*driver, *dsn)
	if err != nil {
		log.WithError(err).Fatal("open db")
	}
	defer st.Close()

	if *up {
		if _, err := st.Migrate(ctx); err != nil {
			log.WithError(err).Fatal("migrate")
		}
	}

	res, err := seed.Apply(ctx, st, f)
	if err != nil {
		log.WithError(err).Fatal("apply seed")
	}
	fields := logrus.Fields{
		"organizations_created": res.OrganizationsCreated,
		"users_created":         res.UsersCreated,
		"skipped":               res.Skipped,
	}
	for key, id := range res.Organizations {
		fields["org."+key] = id
	}
	log.WithFields(fields).Info("seed complete")
}
