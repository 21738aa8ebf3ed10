package bridge

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/turtacn/RegScan/internal/domain/normalize"
	"github.com/turtacn/RegScan/internal/domain/substance"
	"github.com/turtacn/RegScan/internal/infrastructure/monitoring/logging"
	"github.com/turtacn/RegScan/pkg/errors"
)

func masterTable() Table {
	return Table{
		Name:       "master",
		Precedence: 10,
		Rows: []substance.BridgeEntry{
			{LocalCode: "648101ATB", Name: "Imatinib Mesylate", ATCCode: "l01ea01"},
			{LocalCode: "648102ATB", Name: "imatinib mesilate"},
			{LocalCode: "A11BBB", Name: "Pembrolizumab"},
			{LocalCode: "X00001", Name: "(none)"},
		},
	}
}

func TestNew_ReferenceFailures(t *testing.T) {
	n := normalize.Default()

	_, err := New(n, nil)
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeReferenceSourceAbsent))
	assert.True(t, errors.IsReferenceFailure(err))

	_, err = New(n, nil, Table{Name: "empty"})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeReferenceEmpty))

	_, err = New(n, nil, Table{Name: "bad", Rows: []substance.BridgeEntry{{LocalCode: "  ", Name: "x"}}})
	require.Error(t, err)
	assert.True(t, errors.IsCode(err, errors.ErrCodeReferenceMalformed))
}

func TestResolveCode(t *testing.T) {
	b, err := New(normalize.Default(), logging.NewNopLogger(), masterTable())
	require.NoError(t, err)

	m, ok := b.ResolveCode(" 648101atb ")
	require.True(t, ok)
	assert.Equal(t, substance.CanonicalKey("imatinib"), m.Key)
	assert.Equal(t, "L01EA01", m.ATCCode)
	assert.Equal(t, "master", m.Table)

	_, ok = b.ResolveCode("ZZZ000")
	assert.False(t, ok, "unknown codes must not resolve")

	_, ok = b.ResolveCode("X00001")
	assert.False(t, ok, "rows whose name normalizes to empty are skipped")
	assert.Equal(t, 1, b.Stats().EmptyNames)
}

func TestResolveCanonical(t *testing.T) {
	b, err := New(normalize.Default(), nil, masterTable())
	require.NoError(t, err)

	assert.Equal(t, []string{"648101ATB", "648102ATB"}, b.ResolveCanonical("imatinib"))
	assert.Nil(t, b.ResolveCanonical("nivolumab"))
	assert.Equal(t, "L01EA01", b.ATCFor("imatinib"))
	assert.Equal(t, "", b.ATCFor("pembrolizumab"))

	codes := b.ResolveCanonical("imatinib")
	codes[0] = "mutated"
	assert.Equal(t, "648101ATB", b.ResolveCanonical("imatinib")[0])

	key, codes := b.CodesForName("Keytruda / something else")
	assert.Equal(t, substance.CanonicalKey("pembrolizumab"), key)
	assert.Equal(t, []string{"A11BBB"}, codes)

	key, codes = b.CodesForName("")
	assert.True(t, key.IsEmpty())
	assert.Nil(t, codes)
}

func TestPrecedenceAndConflicts(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	log := logging.NewLoggerFromCore(core)

	low := Table{Name: "legacy", Precedence: 1, Rows: []substance.BridgeEntry{
		{LocalCode: "A11BBB", Name: "nivolumab"},
		{LocalCode: "B22CCC", Name: "semaglutide"},
	}}
	b, err := New(normalize.Default(), log, low, masterTable())
	require.NoError(t, err)

	m, ok := b.ResolveCode("A11BBB")
	require.True(t, ok)
	assert.Equal(t, substance.CanonicalKey("pembrolizumab"), m.Key, "higher precedence wins regardless of argument order")

	m, ok = b.ResolveCode("B22CCC")
	require.True(t, ok)
	assert.Equal(t, "legacy", m.Table)

	conflicts := b.Conflicts()
	require.Len(t, conflicts, 1)
	assert.Equal(t, Conflict{
		Code:         "A11BBB",
		KeptTable:    "master",
		KeptKey:      "pembrolizumab",
		DiscardTable: "legacy",
		DiscardKey:   "nivolumab",
	}, conflicts[0])
	assert.Equal(t, 1, b.Stats().Conflicts)
	assert.Nil(t, b.ResolveCanonical("nivolumab"), "reverse index reflects the final mapping")

	require.Equal(t, 1, logs.FilterMessage("bridge conflict").Len())
	entry := logs.FilterMessage("bridge conflict").All()[0]
	assert.Equal(t, "A11BBB", entry.ContextMap()["code"])
}

func TestEqualPrecedenceFirstTableWins(t *testing.T) {
	a := Table{Name: "a", Rows: []substance.BridgeEntry{{LocalCode: "C1", Name: "alpha"}}}
	b := Table{Name: "b", Rows: []substance.BridgeEntry{{LocalCode: "C1", Name: "beta"}}}

	br, err := New(normalize.Default(), nil, a, b)
	require.NoError(t, err)
	m, _ := br.ResolveCode("C1")
	assert.Equal(t, substance.CanonicalKey("alpha"), m.Key)

	br, err = New(normalize.Default(), nil, b, a)
	require.NoError(t, err)
	m, _ = br.ResolveCode("C1")
	assert.Equal(t, substance.CanonicalKey("beta"), m.Key)
}

func TestStats(t *testing.T) {
	b, err := New(normalize.Default(), nil, masterTable())
	require.NoError(t, err)
	assert.Equal(t, Stats{Tables: 1, Rows: 4, Codes: 3, Keys: 2, EmptyNames: 1}, b.Stats())
}
