package payment

import (
	"context"
	"errors"
	"testing"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/ehr/servicegate/internal/domain/catalog"
	"github.com/ehr/servicegate/internal/domain/visit"
)

type fakeHashes struct {
	data map[string]map[string]string
	err  error
	keys []string
}

func (f *fakeHashes) HGetAll(_ context.Context, key string) *redis.MapStringStringCmd {
	f.keys = append(f.keys, key)
	if f.err != nil {
		return redis.NewMapStringStringResult(nil, f.err)
	}
	fields := f.data[key]
	if fields == nil {
		fields = map[string]string{}
	}
	return redis.NewMapStringStringResult(fields, nil)
}

func newVisit(ps visit.PaymentStatus) *visit.Visit {
	return &visit.Visit{ID: uuid.New(), Status: visit.StatusActive, PaymentStatus: ps}
}

func TestVisitStatusProvider(t *testing.T) {
	tests := []struct {
		status  visit.PaymentStatus
		cleared bool
		method  string
	}{
		{visit.PaymentPending, false, ""},
		{visit.PaymentPartiallyPaid, false, ""},
		{visit.PaymentPaid, true, ""},
		{visit.PaymentWaived, true, MethodWaiver},
	}
	for _, tt := range tests {
		t.Run(string(tt.status), func(t *testing.T) {
			st, err := VisitStatusProvider{}.State(context.Background(), newVisit(tt.status), catalog.DepartmentLab)
			require.NoError(t, err)
			assert.Equal(t, tt.cleared, st.Cleared)
			assert.Equal(t, tt.method, st.Method)
			assert.Equal(t, SourceVisit, st.Source)
		})
	}
}

func TestVisitStatusProvider_NilVisit(t *testing.T) {
	st, err := VisitStatusProvider{}.State(context.Background(), nil, catalog.DepartmentLab)
	require.NoError(t, err)
	assert.False(t, st.Cleared)
}

func TestRedisProvider_ReadsDepartmentHash(t *testing.T) {
	v := newVisit(visit.PaymentPending)
	hashes := &fakeHashes{data: map[string]map[string]string{
		ClearanceKey(v.ID, catalog.DepartmentLab): {"cleared": "true", "method": "card"},
	}}
	p := newRedisProvider(hashes, nil, zerolog.Nop())

	st, err := p.State(context.Background(), v, catalog.DepartmentLab)
	require.NoError(t, err)
	assert.True(t, st.Cleared)
	assert.Equal(t, "CARD", st.Method)
	assert.Equal(t, SourceRedis, st.Source)
	assert.Equal(t, []string{"payment:clearance:" + v.ID.String() + ":LAB"}, hashes.keys)

	st, err = p.State(context.Background(), v, catalog.DepartmentRadiology)
	require.NoError(t, err)
	assert.False(t, st.Cleared, "other departments fall back to the pending visit")
	assert.Equal(t, SourceVisit, st.Source)
}

func TestRedisProvider_VisitWaiverOverridesUnclearedHash(t *testing.T) {
	v := newVisit(visit.PaymentWaived)
	hashes := &fakeHashes{data: map[string]map[string]string{
		ClearanceKey(v.ID, catalog.DepartmentLab): {"cleared": "0"},
	}}
	st, err := newRedisProvider(hashes, nil, zerolog.Nop()).State(context.Background(), v, catalog.DepartmentLab)
	require.NoError(t, err)
	assert.True(t, st.Cleared)
	assert.Equal(t, MethodWaiver, st.Method)
}

func TestRedisProvider_ErrorFallsBack(t *testing.T) {
	v := newVisit(visit.PaymentPaid)
	hashes := &fakeHashes{err: errors.New("connection refused")}
	st, err := newRedisProvider(hashes, nil, zerolog.Nop()).State(context.Background(), v, catalog.DepartmentLab)
	require.NoError(t, err)
	assert.True(t, st.Cleared)
	assert.Equal(t, SourceVisit, st.Source)
}

func TestRedisProvider_InvalidFlag(t *testing.T) {
	v := newVisit(visit.PaymentPending)
	hashes := &fakeHashes{data: map[string]map[string]string{
		ClearanceKey(v.ID, catalog.DepartmentLab): {"cleared": "maybe"},
	}}
	_, err := newRedisProvider(hashes, nil, zerolog.Nop()).State(context.Background(), v, catalog.DepartmentLab)
	assert.Error(t, err)
}
