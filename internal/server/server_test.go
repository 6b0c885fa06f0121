package server

import (
	"bytes"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/tracekit-labs/querygraph/internal/adapter"
	"github.com/tracekit-labs/querygraph/internal/catalog"
	"github.com/tracekit-labs/querygraph/internal/column"
	"github.com/tracekit-labs/querygraph/internal/engine"
	"github.com/tracekit-labs/querygraph/internal/graph"
	"github.com/tracekit-labs/querygraph/internal/node"
	"github.com/tracekit-labs/querygraph/internal/pipeline"
	"github.com/tracekit-labs/querygraph/internal/sq"
	"github.com/tracekit-labs/querygraph/internal/testutil"
)

func newTestServer(t *testing.T) *Server {
	t.Helper()
	eng, err := engine.New(engine.Config{
		Target: adapter.Config{Type: "duckdb", Path: ":memory:"},
		Logger: testutil.NewSilentLogger(),
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = eng.Close() })

	cat := catalog.New(testutil.NewSilentLogger())
	return New(Config{
		Addr:    ":0",
		Engine:  eng,
		Catalog: cat,
		Logger:  testutil.NewSilentLogger(),
	})
}

func sampleDocument(t *testing.T) *pipeline.Document {
	t.Helper()
	gen := node.NewCounter("n")
	g := graph.New()

	slice := node.NewTable(gen, "slice", "", []column.Info{
		column.New("id", column.TypeLong),
		column.New("ts", column.TypeTimestamp),
		column.New("dur", column.TypeDuration),
		column.New("name", column.TypeString),
	})
	sorted := node.NewModify(gen, slice)
	sorted.OrderBy = []*sq.OrderingSpec{{ColumnName: "dur", Direction: sq.DirDesc}}
	require.NoError(t, g.Add(slice))
	require.NoError(t, g.Add(sorted))

	doc, err := pipeline.Snapshot("cpu-analysis", "", g)
	require.NoError(t, err)
	return doc
}

func postJSON(t *testing.T, s *Server, path string, body any) *httptest.ResponseRecorder {
	t.Helper()
	raw, err := json.Marshal(body)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, path, bytes.NewReader(raw))
	req.Header.Set("Content-Type", "application/json")
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	return rec
}

func TestHealthz(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/healthz", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"ok"`)
}

func TestCompileEndpoint(t *testing.T) {
	s := newTestServer(t)
	doc := sampleDocument(t)

	rec := postJSON(t, s, "/api/v1/compile", doc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp compileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.Contains(t, resp.SQL, "slice")
	assert.Contains(t, resp.SQL, "ORDER BY dur DESC")
	assert.Nil(t, resp.Root, "IR omitted unless requested")
}

func TestCompileEndpointWithIR(t *testing.T) {
	s := newTestServer(t)
	doc := sampleDocument(t)

	raw, err := json.Marshal(doc)
	require.NoError(t, err)
	req := httptest.NewRequest(http.MethodPost, "/api/v1/compile?ir=true", bytes.NewReader(raw))
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	require.Equal(t, http.StatusOK, rec.Code)

	var resp compileResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	require.NotNil(t, resp.Root)
	assert.Len(t, resp.Shared, 1)
}

func TestCompileUnknownNode(t *testing.T) {
	s := newTestServer(t)
	doc := sampleDocument(t)

	body := map[string]any{"name": doc.Name, "nodes": doc.Nodes, "node": "ghost"}
	rec := postJSON(t, s, "/api/v1/compile", body)
	assert.Equal(t, http.StatusUnprocessableEntity, rec.Code)
	assert.Contains(t, rec.Body.String(), "ghost")
}

func TestValidateEndpoint(t *testing.T) {
	s := newTestServer(t)
	doc := sampleDocument(t)

	// Break the sort node's ordering column.
	for i := range doc.Nodes {
		if doc.Nodes[i].Kind == string(node.KindModify) {
			doc.Nodes[i].State["orderBy"] = []map[string]any{
				{"columnName": "missing_col", "direction": "DESC"},
			}
		}
	}

	rec := postJSON(t, s, "/api/v1/validate", doc)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	var resp validateResponse
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &resp))
	assert.False(t, resp.Valid)
	require.Len(t, resp.Nodes, 2)
	assert.True(t, resp.Nodes[0].Valid)
	assert.False(t, resp.Nodes[1].Valid)
}

func TestValidateRejectsBadDocument(t *testing.T) {
	s := newTestServer(t)
	rec := postJSON(t, s, "/api/v1/validate", map[string]any{"nodes": []any{}})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestCatalogTablesEndpoint(t *testing.T) {
	s := newTestServer(t)
	req := httptest.NewRequest(http.MethodGet, "/api/v1/catalog/tables", nil)
	rec := httptest.NewRecorder()
	s.Handler().ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code)

	var tables []catalog.Table
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &tables))
	assert.Empty(t, tables)
}
