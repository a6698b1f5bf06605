package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/kelseyhightower/envconfig"
	"github.com/rs/zerolog"
	"golang.org/x/sync/errgroup"

	"github.com/masahide/mysql-auth-cache/pkg/authcache"
	"github.com/masahide/mysql-auth-cache/pkg/persist"
	"github.com/masahide/mysql-auth-cache/pkg/refresh"
	"github.com/masahide/mysql-auth-cache/pkg/timeoutnet"
)

type Specification struct {
	Sources        []string `envconfig:"SOURCES" default:"127.0.0.1:3306"`
	SourceUser     string   `envconfig:"SOURCE_USER" default:"maxuser"`
	SourcePassword string   `envconfig:"SOURCE_PASSWORD"`

	RefreshInterval time.Duration `envconfig:"REFRESH_INTERVAL" default:"5m"`
	ConnTimeout     time.Duration `envconfig:"CONN_TIMEOUT" default:"10s"`
	DNSTimeout      time.Duration `envconfig:"DNS_TIMEOUT" default:"3s"`

	CacheFile      string `envconfig:"CACHE_FILE"`
	IncludeRoot    bool   `envconfig:"INCLUDE_ROOT"`
	StripDBEscapes bool   `envconfig:"STRIP_DB_ESCAPES" default:"true"`
	UsersFromAll   bool   `envconfig:"USERS_FROM_ALL"`

	// auto, yes or no. Auto forbids the match when an anonymous
	// account exists upstream.
	LocalhostMatchWildcard string `envconfig:"LOCALHOST_MATCH_WILDCARD" default:"auto"`

	LogLevel string `envconfig:"LOG_LEVEL" default:"info"`
	Debug    bool
}

func main() {
	var s Specification
	if err := envconfig.Process("", &s); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	level, err := zerolog.ParseLevel(s.LogLevel)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger().Level(level)
	if s.Debug {
		logger = logger.Level(zerolog.DebugLevel)
		logger.Debug().RawJSON("config", dumpJSON(&s)).Msg("configuration")
	}

	if err := run(&s, logger); err != nil && !errors.Is(err, context.Canceled) {
		logger.Fatal().Err(err).Msg("exited")
	}
}

func run(s *Specification, logger zerolog.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	localhostWC, err := localhostPolicy(s.LocalhostMatchWildcard)
	if err != nil {
		return err
	}

	cacheFile := s.CacheFile
	if cacheFile == "" {
		confDir, err := os.UserConfigDir()
		if err != nil {
			return err
		}
		cacheFile = filepath.Join(confDir, "mysql-auth-cache", "users.db")
	}
	bridge, err := persist.Open(cacheFile, logger)
	if err != nil {
		return err
	}
	defer bridge.Close()

	store := authcache.NewStore()

	// Last-known-good data first, so authentication works through an
	// upstream outage at startup.
	seeded, _, err := bridge.Seed(ctx, localhostWC)
	if err != nil {
		return err
	}
	store.Install(seeded)

	orch := &refresh.Orchestrator{
		Sources:                s.Sources,
		User:                   s.SourceUser,
		Password:               s.SourcePassword,
		Dialer:                 timeoutnet.NewDialer(s.ConnTimeout).DialContext,
		IncludeRoot:            s.IncludeRoot,
		StripDBEscapes:         s.StripDBEscapes,
		UsersFromAll:           s.UsersFromAll,
		LocalhostMatchWildcard: localhostWC,
		Store:                  store,
		Logger:                 logger,
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		ticker := time.NewTicker(s.RefreshInterval)
		defer ticker.Stop()
		for {
			refreshOnce(ctx, orch, bridge, logger)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-ticker.C:
			}
		}
	})
	logger.Info().
		Strs("sources", s.Sources).
		Str("cache_file", cacheFile).
		Dur("interval", s.RefreshInterval).
		Msg("auth cache service started")
	return g.Wait()
}

// refreshOnce runs a cycle and checkpoints the result. Failures keep the
// previous snapshot; the next tick retries.
func refreshOnce(ctx context.Context, orch *refresh.Orchestrator, bridge *persist.Bridge, logger zerolog.Logger) {
	res, err := orch.Refresh(ctx)
	if err != nil {
		logger.Error().Err(err).Msg("refresh failed, serving previous snapshot")
		return
	}
	if !res.Installed {
		return
	}
	if err := bridge.Checkpoint(ctx, res.Snapshot, res.Catalog); err != nil {
		logger.Error().Err(err).Msg("checkpoint failed")
	}
}

// localhostPolicy maps the config value onto the tri-state policy; nil
// means pick the default from the loaded data.
func localhostPolicy(value string) (*bool, error) {
	switch value {
	case "auto":
		return nil, nil
	case "yes":
		yes := true
		return &yes, nil
	case "no":
		no := false
		return &no, nil
	}
	return nil, fmt.Errorf("invalid LOCALHOST_MATCH_WILDCARD value %q", value)
}

func dumpJSON(v any) []byte {
	s, err := json.Marshal(v)
	if err != nil {
		return nil
	}
	return s
}
