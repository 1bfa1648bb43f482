package classifier

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mbd888/paymo/internal/payment"
)

func setupTestRouter(t *testing.T) (*gin.Engine, *Engine, *MemoryStore) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	store := NewMemoryStore()
	engine := NewEngine(nil).WithStore(store)
	handler := NewHandler(engine, store)

	r := gin.New()
	handler.RegisterRoutes(r.Group("/v1"))
	return r, engine, store
}

func doJSON(r *gin.Engine, method, path string, body any) *httptest.ResponseRecorder {
	var buf bytes.Buffer
	if body != nil {
		_ = json.NewEncoder(&buf).Encode(body)
	}
	req := httptest.NewRequest(method, path, &buf)
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	r.ServeHTTP(w, req)
	return w
}

func TestHandler_BatchThenClassify(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	w := doJSON(router, "POST", "/v1/payments/batch", BatchRequest{Events: []payment.Event{pay("A", "B"), pay("B", "C")}})
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var stats LoadStats
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &stats))
	assert.Equal(t, 2, stats.Loaded)
	assert.Equal(t, 3, stats.Graph.Nodes)

	w = doJSON(router, "POST", "/v1/payments/classify", pay("A", "C"))
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var resp struct {
		Result   Result   `json:"result"`
		Verdicts []string `json:"verdicts"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Equal(t, 2, int(resp.Result.Distance))
	assert.Equal(t, []string{"unverified", "trusted", "trusted", "trusted"}, resp.Verdicts)
	assert.Equal(t, "10.00", resp.Result.Event.Amount.String())
}

func TestHandler_ClassifyRawJSON(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	body := `{"timestamp":"2016-11-02T09:49:29Z","partyA":"52575","partyB":"1120","amount":"25.32","memo":"Spam"}`
	req := httptest.NewRequest("POST", "/v1/payments/classify", bytes.NewBufferString(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code, w.Body.String())
	assert.Contains(t, w.Body.String(), `"reachable":false`)
}

func TestHandler_ClassifyInvalidEvent(t *testing.T) {
	router, engine, _ := setupTestRouter(t)

	w := doJSON(router, "POST", "/v1/payments/classify", pay("A", ""))
	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_event")

	stats, err := engine.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Events)
}

func TestHandler_ClassifyMalformedBody(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	req := httptest.NewRequest("POST", "/v1/payments/classify", bytes.NewBufferString(`{"amount":"abc"`))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	router.ServeHTTP(w, req)

	assert.Equal(t, http.StatusBadRequest, w.Code)
	assert.Contains(t, w.Body.String(), "invalid_request")
}

func TestHandler_BatchRejectsInvalidEvent(t *testing.T) {
	router, engine, _ := setupTestRouter(t)

	bad := pay("C", "D")
	bad.Timestamp = time.Time{}
	w := doJSON(router, "POST", "/v1/payments/batch", BatchRequest{Events: []payment.Event{pay("A", "B"), bad}})
	assert.Equal(t, http.StatusBadRequest, w.Code)

	stats, err := engine.Stats(context.Background())
	require.NoError(t, err)
	assert.Zero(t, stats.Nodes, "batch is all or nothing")
}

func TestHandler_BatchMissingEvents(t *testing.T) {
	router, _, _ := setupTestRouter(t)
	w := doJSON(router, "POST", "/v1/payments/batch", map[string]any{})
	assert.Equal(t, http.StatusBadRequest, w.Code)
}

func TestHandler_Distance(t *testing.T) {
	router, engine, _ := setupTestRouter(t)
	_, err := engine.LoadEvents(context.Background(), []payment.Event{
		pay("p0", "p1"), pay("p1", "p2"), pay("p2", "p3"), pay("p3", "p4"), pay("p4", "p5"),
	})
	require.NoError(t, err)

	tests := []struct {
		path      string
		code      int
		distance  int
		reachable bool
	}{
		{"/v1/parties/p0/distance/p2", http.StatusOK, 2, true},
		{"/v1/parties/p0/distance/p5", http.StatusOK, -1, false},
		{"/v1/parties/p0/distance/p5?bound=0", http.StatusOK, 5, true},
		{"/v1/parties/p0/distance/p5?bound=5", http.StatusOK, 5, true},
		{"/v1/parties/p0/distance/p0", http.StatusOK, 0, true},
		{"/v1/parties/p0/distance/p5?bound=x", http.StatusBadRequest, 0, false},
		{"/v1/parties/p0/distance/p5?bound=-1", http.StatusBadRequest, 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.path, func(t *testing.T) {
			w := doJSON(router, "GET", tt.path, nil)
			require.Equal(t, tt.code, w.Code, w.Body.String())
			if tt.code != http.StatusOK {
				return
			}
			var resp struct {
				Distance  int  `json:"distance"`
				Reachable bool `json:"reachable"`
			}
			require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
			assert.Equal(t, tt.distance, resp.Distance)
			assert.Equal(t, tt.reachable, resp.Reachable)
		})
	}
}

func TestHandler_EdgeHistoryAndNeighbors(t *testing.T) {
	router, engine, _ := setupTestRouter(t)
	_, err := engine.LoadEvents(context.Background(), []payment.Event{pay("A", "B"), pay("B", "A"), pay("A", "C")})
	require.NoError(t, err)

	w := doJSON(router, "GET", "/v1/parties/B/edges/A", nil)
	require.Equal(t, http.StatusOK, w.Code)
	var hist struct {
		Events []payment.Event `json:"events"`
		Count  int             `json:"count"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &hist))
	assert.Equal(t, 2, hist.Count)
	assert.Equal(t, "A", hist.Events[0].PartyA)

	w = doJSON(router, "GET", "/v1/parties/A/neighbors", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"neighbors":["B","C"]`)
}

func TestHandler_ListVerdictsPaginates(t *testing.T) {
	router, engine, _ := setupTestRouter(t)
	ctx := context.Background()
	for i := 0; i < 3; i++ {
		_, err := engine.Classify(ctx, pay("A", fmt.Sprintf("p%d", i)))
		require.NoError(t, err)
	}
	require.NoError(t, engine.Drain(ctx))

	w := doJSON(router, "GET", "/v1/parties/A/verdicts?limit=2", nil)
	require.Equal(t, http.StatusOK, w.Code, w.Body.String())

	var page struct {
		Verdicts   []Result `json:"verdicts"`
		Count      int      `json:"count"`
		NextCursor string   `json:"nextCursor"`
		HasMore    bool     `json:"hasMore"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &page))
	assert.Equal(t, 2, page.Count)
	require.True(t, page.HasMore)

	w = doJSON(router, "GET", "/v1/parties/A/verdicts?limit=2&cursor="+page.NextCursor, nil)
	require.Equal(t, http.StatusOK, w.Code)
	var rest struct {
		Count   int  `json:"count"`
		HasMore bool `json:"hasMore"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &rest))
	assert.Equal(t, 1, rest.Count)
	assert.False(t, rest.HasMore)
}

func TestHandler_ListVerdictsBadInput(t *testing.T) {
	router, _, _ := setupTestRouter(t)

	assert.Equal(t, http.StatusBadRequest, doJSON(router, "GET", "/v1/parties/A/verdicts?limit=abc", nil).Code)
	assert.Equal(t, http.StatusBadRequest, doJSON(router, "GET", "/v1/parties/A/verdicts?cursor=%21%21", nil).Code)

	w := doJSON(router, "GET", "/v1/parties/A/verdicts", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), `"verdicts":[]`)
}

func TestHandler_ListVerdictsWithoutStore(t *testing.T) {
	gin.SetMode(gin.TestMode)
	r := gin.New()
	NewHandler(NewEngine(nil), nil).RegisterRoutes(r.Group("/v1"))

	w := doJSON(r, "GET", "/v1/parties/A/verdicts", nil)
	assert.Equal(t, http.StatusServiceUnavailable, w.Code)
}

func TestHandler_StatsAndPolicy(t *testing.T) {
	router, engine, _ := setupTestRouter(t)
	_, err := engine.LoadEvents(context.Background(), []payment.Event{pay("A", "B")})
	require.NoError(t, err)

	w := doJSON(router, "GET", "/v1/graph/stats", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{"nodes":2,"edges":1,"events":1}`, w.Body.String())

	w = doJSON(router, "GET", "/v1/policy", nil)
	require.Equal(t, http.StatusOK, w.Code)
	assert.JSONEq(t, `{
		"tiers":[{"name":"feature1","bound":1},{"name":"feature2","bound":2},{"name":"feature3","bound":4}],
		"maxBound":4,
		"duplicateFeature":"duplicate"
	}`, w.Body.String())
}
