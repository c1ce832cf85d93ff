package db

import (
	"context"
	"fmt"

	"github.com/gocql/gocql"

	"github.com/acme/triple-line-dialer/internal/config"
)

// Scylla wraps a gocql session.
type Scylla struct {
	session *gocql.Session
}

// NewScylla connects to the timeline keyspace.
func NewScylla(cfg config.ScyllaConfig) (*Scylla, error) {
	cluster := gocql.NewCluster(cfg.Hosts...)
	cluster.Port = cfg.Port
	cluster.Keyspace = cfg.Keyspace
	cluster.Consistency = parseConsistency(cfg.Consistency)
	cluster.Timeout = cfg.Timeout
	cluster.RetryPolicy = &gocql.SimpleRetryPolicy{NumRetries: 3}

	session, err := cluster.CreateSession()
	if err != nil {
		return nil, fmt.Errorf("scylla: create session: %w", err)
	}

	return &Scylla{session: session}, nil
}

// Session exposes the gocql session.
func (s *Scylla) Session() *gocql.Session {
	return s.session
}

// EnsureSchema creates the timeline table when it does not exist yet.
func (s *Scylla) EnsureSchema(ctx context.Context) error {
	if err := s.session.Query(`CREATE TABLE IF NOT EXISTS call_events_by_user (
		user_id text,
		day timestamp,
		call_sid text,
		occurred_at timestamp,
		status text,
		previous_status text,
		source text,
		line_number int,
		PRIMARY KEY ((user_id, day), call_sid, occurred_at, status)
	) WITH CLUSTERING ORDER BY (call_sid ASC, occurred_at ASC, status ASC)`).WithContext(ctx).Exec(); err != nil {
		return fmt.Errorf("scylla: create call_events_by_user: %w", err)
	}
	return nil
}

// Ping runs a trivial query against the local node.
func (s *Scylla) Ping(ctx context.Context) error {
	return s.session.Query("SELECT now() FROM system.local").WithContext(ctx).Exec()
}

// Close shuts down the session.
func (s *Scylla) Close() error {
	if s.session != nil {
		s.session.Close()
	}
	return nil
}

func parseConsistency(level string) gocql.Consistency {
	switch level {
	case "one":
		return gocql.One
	case "local_quorum":
		return gocql.LocalQuorum
	case "local_one":
		return gocql.LocalOne
	case "each_quorum":
		return gocql.EachQuorum
	case "quorum":
		fallthrough
	default:
		return gocql.Quorum
	}
}
