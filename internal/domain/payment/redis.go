package payment

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"github.com/ehr/servicegate/internal/domain/catalog"
	"github.com/ehr/servicegate/internal/domain/visit"
)

const clearanceKeyPrefix = "payment:clearance:"

type hashReader interface {
	HGetAll(ctx context.Context, key string) *redis.MapStringStringCmd
}

// RedisProvider reads per-department clearance written by the payment system
// into hashes keyed payment:clearance:<visit_id>:<department> with fields
// "cleared" and "method". Visits without a hash fall back to another provider.
type RedisProvider struct {
	client   hashReader
	fallback StateProvider
	logger   zerolog.Logger
}

func NewRedisProvider(client *redis.Client, fallback StateProvider, logger zerolog.Logger) *RedisProvider {
	return newRedisProvider(client, fallback, logger)
}

func newRedisProvider(client hashReader, fallback StateProvider, logger zerolog.Logger) *RedisProvider {
	if fallback == nil {
		fallback = VisitStatusProvider{}
	}
	return &RedisProvider{client: client, fallback: fallback, logger: logger}
}

func ClearanceKey(visitID fmt.Stringer, department catalog.Department) string {
	return clearanceKeyPrefix + visitID.String() + ":" + string(department)
}

func (p *RedisProvider) State(ctx context.Context, v *visit.Visit, department catalog.Department) (State, error) {
	if v == nil {
		return p.fallback.State(ctx, v, department)
	}

	fields, err := p.client.HGetAll(ctx, ClearanceKey(v.ID, department)).Result()
	if err != nil {
		p.logger.Warn().Err(err).
			Str("visit_id", v.ID.String()).
			Str("department", string(department)).
			Msg("payment clearance lookup failed, using visit status")
		return p.fallback.State(ctx, v, department)
	}
	if len(fields) == 0 {
		return p.fallback.State(ctx, v, department)
	}

	cleared, err := strconv.ParseBool(strings.TrimSpace(fields["cleared"]))
	if err != nil {
		return State{}, fmt.Errorf("clearance for visit %s/%s: invalid cleared flag %q", v.ID, department, fields["cleared"])
	}
	st := State{Cleared: cleared, Method: strings.ToUpper(strings.TrimSpace(fields["method"])), Source: SourceRedis}

	// A visit-level waiver or full payment still clears every department.
	if !st.Cleared {
		if base, err := p.fallback.State(ctx, v, department); err == nil && base.Cleared {
			return base, nil
		}
	}
	return st, nil
}
