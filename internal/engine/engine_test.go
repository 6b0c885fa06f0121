package engine

import (
	"context"
	"database/sql"
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracekit-labs/querygraph/internal/adapter"
	"github.com/tracekit-labs/querygraph/internal/column"
	"github.com/tracekit-labs/querygraph/internal/node"
	"github.com/tracekit-labs/querygraph/internal/sq"
	"github.com/tracekit-labs/querygraph/internal/testutil"
)

func newTestEngine(t *testing.T) *Engine {
	t.Helper()
	e, err := New(Config{
		Target:    adapter.Config{Type: "duckdb", Path: ":memory:"},
		StatePath: ":memory:",
		Logger:    testutil.NewSilentLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = e.Close() })
	return e
}

// mockAdapter serves queries from a sqlmock-backed database.
type mockAdapter struct {
	db *sql.DB
}

func (m *mockAdapter) Connect(ctx context.Context, cfg adapter.Config) error { return nil }
func (m *mockAdapter) Close() error                                          { return m.db.Close() }

func (m *mockAdapter) Exec(ctx context.Context, stmt string) error {
	_, err := m.db.ExecContext(ctx, stmt)
	return err
}

func (m *mockAdapter) Query(ctx context.Context, stmt string) (*adapter.Rows, error) {
	rows, err := m.db.QueryContext(ctx, stmt)
	if err != nil {
		return nil, err
	}
	return &adapter.Rows{Rows: rows}, nil
}

func (m *mockAdapter) Tables(ctx context.Context) ([]string, error) { return nil, nil }
func (m *mockAdapter) TableMetadata(ctx context.Context, table string) (*adapter.Metadata, error) {
	return nil, nil
}
func (m *mockAdapter) DialectName() string { return "mock" }

// injectDB hands the engine a sqlmock-backed adapter, skipping Connect.
func injectDB(t *testing.T, e *Engine) sqlmock.Sqlmock {
	t.Helper()
	db, mock, err := sqlmock.New(
		sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	e.db = &mockAdapter{db: db}
	e.dbConnected = true
	return mock
}

func sliceTable(gen node.IDGenerator) *node.TableNode {
	return node.NewTable(gen, "slice", "", []column.Info{
		column.New("id", column.TypeLong),
		column.New("ts", column.TypeTimestamp),
		column.New("dur", column.TypeDuration),
		column.New("name", column.TypeString),
	})
}

func TestCompileChain(t *testing.T) {
	e := newTestEngine(t)
	gen := node.NewCounter("n")

	slice := sliceTable(gen)
	sorted := node.NewModify(gen, slice)
	sorted.OrderBy = []*sq.OrderingSpec{{ColumnName: "dur", Direction: sq.DirDesc}}

	compiled, err := e.Compile(sorted)
	require.NoError(t, err)
	assert.Equal(t, sorted.ID(), compiled.NodeID)
	assert.Contains(t, compiled.SQL, "shared_sq_"+slice.ID())
	assert.Contains(t, compiled.SQL, "ORDER BY dur DESC")
	assert.Empty(t, compiled.Warnings)
}

func TestCompileInvalidNodeFails(t *testing.T) {
	e := newTestEngine(t)
	gen := node.NewCounter("n")

	orphan := node.NewModify(gen, nil)
	_, err := e.Compile(orphan)
	require.ErrorIs(t, err, ErrNodeInvalid)
}

func TestCompileByID(t *testing.T) {
	e := newTestEngine(t)
	gen := node.NewCounter("n")

	slice := sliceTable(gen)
	require.NoError(t, e.Graph().Add(slice))

	compiled, err := e.CompileByID(slice.ID())
	require.NoError(t, err)
	assert.Contains(t, compiled.SQL, "slice")

	_, err = e.CompileByID("ghost")
	require.Error(t, err)
}

func TestRunRecordsHistory(t *testing.T) {
	e := newTestEngine(t)
	gen := node.NewCounter("n")
	slice := sliceTable(gen)

	mock := injectDB(t, e)
	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"id", "ts", "dur", "name"}).
			AddRow(1, 100, 50, "render").
			AddRow(2, 200, nil, "paint"))

	result, err := e.Run(context.Background(), "demo", slice)
	require.NoError(t, err)
	assert.Equal(t, []string{"id", "ts", "dur", "name"}, result.Columns)
	require.Len(t, result.Rows, 2)
	assert.Equal(t, "NULL", result.Rows[1][2])
	assert.False(t, result.Truncated)

	runs, err := e.Store().ListRuns(context.Background(), "demo", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, slice.ID(), runs[0].NodeID)
	assert.EqualValues(t, 2, runs[0].RowsReturned)
}

func TestRunFailureRecorded(t *testing.T) {
	e := newTestEngine(t)
	gen := node.NewCounter("n")
	slice := sliceTable(gen)

	mock := injectDB(t, e)
	mock.ExpectQuery("SELECT").WillReturnError(assert.AnError)

	_, err := e.Run(context.Background(), "demo", slice)
	require.Error(t, err)

	runs, err := e.Store().ListRuns(context.Background(), "demo", 10)
	require.NoError(t, err)
	require.Len(t, runs, 1)
	assert.Equal(t, "failed", string(runs[0].Status))
}

func TestRunTruncatesAtMaxRows(t *testing.T) {
	e := newTestEngine(t)
	e.maxRows = 1
	gen := node.NewCounter("n")
	slice := sliceTable(gen)

	mock := injectDB(t, e)
	mock.ExpectQuery("SELECT").WillReturnRows(
		sqlmock.NewRows([]string{"id", "ts", "dur", "name"}).
			AddRow(1, 100, 50, "a").
			AddRow(2, 200, 60, "b"))

	result, err := e.Run(context.Background(), "demo", slice)
	require.NoError(t, err)
	assert.Len(t, result.Rows, 1)
	assert.True(t, result.Truncated)
}

func TestDistinctValuesDegradesPerColumn(t *testing.T) {
	e := newTestEngine(t)
	gen := node.NewCounter("n")
	slice := sliceTable(gen)

	mock := injectDB(t, e)
	mock.MatchExpectationsInOrder(false)
	mock.ExpectQuery("SELECT DISTINCT name").WillReturnRows(
		sqlmock.NewRows([]string{"name"}).AddRow("paint").AddRow("render"))
	mock.ExpectQuery("SELECT DISTINCT dur").WillReturnError(assert.AnError)

	values, err := e.DistinctValues(context.Background(), slice, []string{"name", "dur", "missing"})
	require.NoError(t, err)
	assert.Equal(t, []string{"paint", "render"}, values["name"])
	assert.Empty(t, values["dur"], "failed fetch degrades to empty")
	assert.Empty(t, values["missing"], "unknown column degrades to empty")
}

func TestRevalidateFlagsDownstream(t *testing.T) {
	e := newTestEngine(t)
	gen := node.NewCounter("n")

	slice := sliceTable(gen)
	sorted := node.NewModify(gen, slice)
	sorted.OrderBy = []*sq.OrderingSpec{{ColumnName: "dur", Direction: sq.DirDesc}}
	require.NoError(t, e.Graph().Add(slice))
	require.NoError(t, e.Graph().Add(sorted))

	valid, err := e.Revalidate(slice.ID())
	require.NoError(t, err)
	require.Empty(t, valid)

	// Break the source; the downstream sort must turn invalid too.
	slice.Columns = nil
	invalid, err := e.Revalidate(slice.ID())
	require.NoError(t, err)
	assert.Contains(t, invalid, slice.ID())
	assert.Contains(t, invalid, sorted.ID())

	issues := e.ValidateAll()
	assert.Len(t, issues, 2)
}
