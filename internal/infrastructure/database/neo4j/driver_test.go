package neo4j

import (
	"context"
	"errors"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"

	pkgerrors "github.com/turtacn/RegScan/pkg/errors"
)

type MockDriver struct {
	mock.Mock
}

func (m *MockDriver) VerifyConnectivity(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockDriver) NewSession(ctx context.Context, config neo4j.SessionConfig) internalSession {
	return m.Called(ctx, config).Get(0).(internalSession)
}

func (m *MockDriver) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type MockSession struct {
	mock.Mock
	tx Transaction
}

func (m *MockSession) ExecuteRead(ctx context.Context, work TransactionWork) (any, error) {
	return work(m.tx)
}

func (m *MockSession) ExecuteWrite(ctx context.Context, work TransactionWork) (any, error) {
	return work(m.tx)
}

func (m *MockSession) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

type fakeTx struct {
	records []*neo4j.Record
	err     error
	cypher  []string
}

func (t *fakeTx) Run(ctx context.Context, cypher string, params map[string]any) (Result, error) {
	t.cypher = append(t.cypher, cypher)
	if t.err != nil {
		return nil, t.err
	}
	return &fakeResult{records: t.records, pos: -1}, nil
}

type fakeResult struct {
	records []*neo4j.Record
	pos     int
}

func (r *fakeResult) Next(ctx context.Context) bool {
	r.pos++
	return r.pos < len(r.records)
}
func (r *fakeResult) Record() *neo4j.Record { return r.records[r.pos] }
func (r *fakeResult) Err() error            { return nil }
func (r *fakeResult) Consume(ctx context.Context) (neo4j.ResultSummary, error) {
	return nil, nil
}

func TestDriver_HealthCheck(t *testing.T) {
	md := new(MockDriver)
	tx := &fakeTx{records: []*neo4j.Record{{Keys: []string{"health"}, Values: []any{int64(1)}}}}
	ms := &MockSession{tx: tx}

	md.On("VerifyConnectivity", mock.Anything).Return(nil)
	md.On("NewSession", mock.Anything, neo4j.SessionConfig{
		DatabaseName: "neo4j",
		AccessMode:   neo4j.AccessModeRead,
	}).Return(ms)
	ms.On("Close", mock.Anything).Return(nil)

	d := newWithInternal(md, Neo4jConfig{}, nil)
	require.NoError(t, d.HealthCheck(context.Background()))
	assert.Equal(t, []string{"RETURN 1 AS health"}, tx.cypher)
	md.AssertExpectations(t)
	ms.AssertExpectations(t)
}

func TestDriver_HealthCheckUnreachable(t *testing.T) {
	md := new(MockDriver)
	md.On("VerifyConnectivity", mock.Anything).Return(errors.New("connection refused"))

	d := newWithInternal(md, Neo4jConfig{}, nil)
	err := d.HealthCheck(context.Background())
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeDatabaseError))
}

func TestDriver_ExecuteWriteWrapsErrors(t *testing.T) {
	md := new(MockDriver)
	ms := &MockSession{tx: &fakeTx{err: errors.New("constraint violated")}}
	md.On("NewSession", mock.Anything, neo4j.SessionConfig{
		DatabaseName: "graph",
		AccessMode:   neo4j.AccessModeWrite,
	}).Return(ms)
	ms.On("Close", mock.Anything).Return(nil)

	d := newWithInternal(md, Neo4jConfig{Database: "graph"}, nil)
	_, err := d.ExecuteWrite(context.Background(), func(tx Transaction) (any, error) {
		return tx.Run(context.Background(), "CREATE (n)", nil)
	})
	assert.True(t, pkgerrors.IsCode(err, pkgerrors.ErrCodeDatabaseError))
	ms.AssertExpectations(t)
}

func TestDriver_CloseOnce(t *testing.T) {
	md := new(MockDriver)
	md.On("Close", mock.Anything).Return(nil).Once()

	d := newWithInternal(md, Neo4jConfig{}, nil)
	assert.NoError(t, d.Close(context.Background()))
	assert.NoError(t, d.Close(context.Background()))
	md.AssertExpectations(t)
}

func TestCollectRecords(t *testing.T) {
	res := &fakeResult{pos: -1, records: []*neo4j.Record{
		{Keys: []string{"key"}, Values: []any{"a"}},
		{Keys: []string{"key"}, Values: []any{"b"}},
	}}
	keys, err := CollectRecords(context.Background(), res, func(r *neo4j.Record) (string, error) {
		return r.Values[0].(string), nil
	})
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b"}, keys)

	empty, err := CollectRecords(context.Background(), &fakeResult{pos: -1}, func(r *neo4j.Record) (string, error) {
		return "", nil
	})
	require.NoError(t, err)
	assert.Empty(t, empty)
	assert.NotNil(t, empty)
}
