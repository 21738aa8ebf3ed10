package repositories

import (
	"context"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/stretchr/testify/mock"

	infraNeo4j "github.com/turtacn/RegScan/internal/infrastructure/database/neo4j"
)

// MockInfraDriver implements infraNeo4j.DriverInterface
type MockInfraDriver struct {
	mock.Mock
}

func (m *MockInfraDriver) ExecuteRead(ctx context.Context, work infraNeo4j.TransactionWork) (any, error) {
	args := m.Called(ctx, work)
	if fn, ok := args.Get(0).(func(context.Context, infraNeo4j.TransactionWork) (any, error)); ok {
		return fn(ctx, work)
	}
	return args.Get(0), args.Error(1)
}

func (m *MockInfraDriver) ExecuteWrite(ctx context.Context, work infraNeo4j.TransactionWork) (any, error) {
	args := m.Called(ctx, work)
	if fn, ok := args.Get(0).(func(context.Context, infraNeo4j.TransactionWork) (any, error)); ok {
		return fn(ctx, work)
	}
	return args.Get(0), args.Error(1)
}

func (m *MockInfraDriver) HealthCheck(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

func (m *MockInfraDriver) Close(ctx context.Context) error {
	return m.Called(ctx).Error(0)
}

// MockInfraTransaction implements infraNeo4j.Transaction
type MockInfraTransaction struct {
	mock.Mock
}

func (m *MockInfraTransaction) Run(ctx context.Context, cypher string, params map[string]any) (infraNeo4j.Result, error) {
	args := m.Called(ctx, cypher, params)
	if args.Get(0) == nil {
		return nil, args.Error(1)
	}
	return args.Get(0).(infraNeo4j.Result), args.Error(1)
}

// MockResult replays Records in order. Consume reports the given counters.
type MockResult struct {
	Records      []*neo4j.Record
	NodesCreated int
	RelsCreated  int
	ConsumeErr   error
	pos          int
	started      bool
}

func (m *MockResult) Next(ctx context.Context) bool {
	if m.started {
		m.pos++
	}
	m.started = true
	return m.pos < len(m.Records)
}

func (m *MockResult) Record() *neo4j.Record {
	if m.pos < len(m.Records) {
		return m.Records[m.pos]
	}
	return nil
}

func (m *MockResult) Err() error { return nil }

func (m *MockResult) Consume(ctx context.Context) (neo4j.ResultSummary, error) {
	if m.ConsumeErr != nil {
		return nil, m.ConsumeErr
	}
	return fakeSummary{counters: fakeCounters{nodes: m.NodesCreated, rels: m.RelsCreated}}, nil
}

// fakeSummary implements only Counters; other methods panic.
type fakeSummary struct {
	neo4j.ResultSummary
	counters fakeCounters
}

func (s fakeSummary) Counters() neo4j.Counters { return s.counters }

type fakeCounters struct {
	neo4j.Counters
	nodes, rels int
}

func (c fakeCounters) NodesCreated() int         { return c.nodes }
func (c fakeCounters) RelationshipsCreated() int { return c.rels }

func NewRecord(keys []string, values []any) *neo4j.Record {
	return &neo4j.Record{Keys: keys, Values: values}
}

// SetupMockDriver routes ExecuteRead and ExecuteWrite through tx.
func SetupMockDriver(t *testing.T) (*MockInfraDriver, *MockInfraTransaction) {
	t.Helper()
	d := new(MockInfraDriver)
	tx := new(MockInfraTransaction)

	run := func(ctx context.Context, work infraNeo4j.TransactionWork) (any, error) {
		return work(tx)
	}
	d.On("ExecuteRead", mock.Anything, mock.Anything).Return(run).Maybe()
	d.On("ExecuteWrite", mock.Anything, mock.Anything).Return(run).Maybe()
	return d, tx
}
