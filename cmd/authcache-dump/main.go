// Command authcache-dump prints the contents of a persisted auth cache,
// one JSON object per grant, for inspection and migration checks.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"os"

	"github.com/rs/zerolog"

	"github.com/masahide/mysql-auth-cache/pkg/authcache"
	"github.com/masahide/mysql-auth-cache/pkg/persist"
)

var (
	version = "dev"
	commit  = "none"
	date    = "unknown"
	showVer = flag.Bool("version", false, "Show version")
	legacy  = flag.Bool("legacy", false, "Read arguments as legacy flat files instead of SQLite stores")
)

func main() {
	flag.Parse()
	if *showVer {
		// nolint: errcheck
		fmt.Printf("version: %v\ncommit: %v\nbuilt_at: %v\n", version, commit, date)
		return
	}
	for _, arg := range flag.Args() {
		err := filePrint(arg)
		if err != nil {
			log.Printf("cannot print file:%s, err:%s", arg, err)
		}
	}
}

func filePrint(filename string) error {
	if *legacy {
		return printLegacy(filename)
	}
	return printStore(filename)
}

func printLegacy(filename string) error {
	r, err := os.Open(filename)
	if err != nil {
		return err
	}
	defer r.Close()
	dec := persist.NewLegacyDecoder(r)
	for {
		rec, err := dec.Decode()
		if err != nil {
			if errors.Is(err, io.EOF) {
				return nil
			}
			return err
		}
		os.Stdout.Write(fmtJSON(formatRecord(rec)))
	}
}

func printStore(filename string) error {
	bridge, err := persist.Open(filename, zerolog.Nop())
	if err != nil {
		return err
	}
	defer bridge.Close()
	snap, catalog, err := bridge.Seed(context.Background(), nil)
	if err != nil {
		return err
	}
	snap.ForEach(func(rec authcache.GrantRecord) {
		os.Stdout.Write(fmtJSON(formatRecord(rec)))
	})
	for _, name := range catalog.Names() {
		os.Stdout.Write(fmtJSON(entry{Database: name, Scope: "catalog"}))
	}
	return nil
}

func fmtJSON(v any) []byte {
	b, err := json.Marshal(v)
	if err != nil {
		log.Printf("cannot print json:%s", err)
		return []byte{}
	}
	return append(b, byte('\n'))
}

type entry struct {
	User       string `json:"user,omitempty"`
	Host       string `json:"host,omitempty"`
	Scope      string `json:"scope,omitempty"`
	Database   string `json:"db,omitempty"`
	Credential string `json:"credential,omitempty"`
}

func formatRecord(rec authcache.GrantRecord) entry {
	e := entry{
		User:       rec.User,
		Host:       rec.HostRaw,
		Credential: rec.Credential,
	}
	switch rec.Scope.Kind {
	case authcache.ScopeDenied:
		e.Scope = "denied"
	case authcache.ScopeAny:
		e.Scope = "any"
	case authcache.ScopeExact:
		e.Scope = "exact"
		e.Database = rec.Scope.Name
	case authcache.ScopeWildcard:
		e.Scope = "wildcard"
		e.Database = rec.Scope.Name
	}
	return e
}
