package postgres

import (
	"context"
	"strings"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/streamlux/pulsebanner/internal/adapter/metrics"
)

// queryTracer records every query as a "postgres" upstream call, labelled by statement kind.
type queryTracer struct {
	metrics *metrics.UpstreamMetrics
}

var _ pgx.QueryTracer = queryTracer{}

type queryStartKey struct{}

type queryStart struct {
	at        time.Time
	statement string
}

func (t queryTracer) TraceQueryStart(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryStartData) context.Context {
	return context.WithValue(ctx, queryStartKey{}, queryStart{at: time.Now(), statement: statementKind(data.SQL)})
}

func (t queryTracer) TraceQueryEnd(ctx context.Context, _ *pgx.Conn, data pgx.TraceQueryEndData) {
	start, ok := ctx.Value(queryStartKey{}).(queryStart)
	if !ok {
		return
	}
	t.metrics.Observe("postgres", start.statement, start.at, data.Err)
}

// statementKind keeps metric labels low-cardinality: only the leading keyword survives.
func statementKind(sql string) string {
	fields := strings.Fields(sql)
	if len(fields) == 0 {
		return "unknown"
	}
	switch kind := strings.ToLower(fields[0]); kind {
	case "select", "insert", "update", "delete", "with":
		return kind
	default:
		return "other"
	}
}
