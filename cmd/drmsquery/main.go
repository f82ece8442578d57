// Command drmsquery is a thin CLI wrapper around the recordset engine,
// for ad-hoc inspection of a record-set spec against a live database.
// Grounded on cmd/pg_lineage_demo's flag-based wiring of richcatalog +
// pg_lineage into one binary; generalized here to wire sqlclient, env,
// and recordset instead.
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"

	"github.com/lmjps/drms-recordset/internal/drmsconfig"
	"github.com/lmjps/drms-recordset/internal/env"
	"github.com/lmjps/drms-recordset/internal/recordset"
	"github.com/lmjps/drms-recordset/internal/sqlclient"
)

func main() {
	var dsn, spec string
	flag.StringVar(&dsn, "conn", os.Getenv("DRMS_DSN"), "postgres connection string")
	flag.StringVar(&spec, "spec", "", "record-set specification to open")
	cfg := drmsconfig.Default()
	cfg.BindFlags(flag.CommandLine)
	flag.Parse()

	if dsn == "" || spec == "" {
		fmt.Fprintln(os.Stderr, "usage: drmsquery -conn <dsn> -spec <record-set spec> [options]")
		os.Exit(2)
	}

	ctx := context.Background()
	client, err := sqlclient.Open(ctx, dsn)
	if err != nil {
		log.Fatalf("connect: %v", err)
	}
	defer client.Close()

	e, err := env.New(ctx, client.DB, cfg)
	if err != nil {
		log.Fatalf("environment: %v", err)
	}
	defer e.Close()

	rs, err := recordset.Open(ctx, e, spec, recordset.Options{})
	if err != nil {
		log.Fatalf("open %q: %v", spec, err)
	}
	defer rs.Close(recordset.Free)

	fmt.Println(rs.String())
	for _, sub := range rs.SubSets {
		fmt.Printf("  %s: %d record(s)\n", sub.Series, len(sub.Records))
	}
}
