package api

import (
	"bytes"
	"encoding/json"
	"net/http"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/squareup/flowbase/conf"
	"github.com/squareup/flowbase/controller"
)

func TestSessionLifecycle(t *testing.T) {
	ctrl := controller.NewController(controller.Options{})
	defer ctrl.Close()
	cfg := conf.Defaults()
	cfg.APIServerSessionCheckInterval = time.Hour
	cfg.APIServerSessionTimeout = time.Hour
	s := NewServer(ctrl, cfg)

	rec := httpRecorder(http.MethodPost, "/sessions", nil)
	s.handleSessions(rec, rec.req)
	require.Equal(t, http.StatusCreated, rec.code)
	var created createSessionResponse
	require.NoError(t, json.Unmarshal(rec.body.Bytes(), &created))
	require.NotEmpty(t, created.SessionID)
	require.Equal(t, 1, s.SessionCount())

	hb := httpRecorder(http.MethodPost, "/sessions/"+created.SessionID+"/heartbeat", nil)
	s.handleSession(hb, hb.req)
	require.Equal(t, http.StatusNoContent, hb.code)

	del := httpRecorder(http.MethodDelete, "/sessions/"+created.SessionID, nil)
	s.handleSession(del, del.req)
	require.Equal(t, http.StatusNoContent, del.code)
	require.Equal(t, 0, s.SessionCount())

	missing := httpRecorder(http.MethodPost, "/sessions/"+created.SessionID+"/heartbeat", nil)
	s.handleSession(missing, missing.req)
	require.Equal(t, http.StatusNotFound, missing.code)
}

func TestStatementInstallsThenExtendsRecipe(t *testing.T) {
	ctrl := controller.NewController(controller.Options{})
	defer ctrl.Close()
	cfg := conf.Defaults()
	s := NewServer(ctrl, cfg)

	sessRec := httpRecorder(http.MethodPost, "/sessions", nil)
	s.handleSessions(sessRec, sessRec.req)
	var created createSessionResponse
	require.NoError(t, json.Unmarshal(sessRec.body.Bytes(), &created))

	body, _ := json.Marshal(statementRequest{Recipe: `
		CREATE TABLE orders (id BIGINT, amount BIGINT);
		order_by_id: SELECT * FROM orders;
	`})
	rec := httpRecorder(http.MethodPost, "/sessions/"+created.SessionID+"/statement", body)
	s.handleSession(rec, rec.req)
	require.Equal(t, http.StatusNoContent, rec.code, rec.body.String())

	body2, _ := json.Marshal(statementRequest{Recipe: `CREATE TABLE customers (id BIGINT);`})
	rec2 := httpRecorder(http.MethodPost, "/sessions/"+created.SessionID+"/statement", body2)
	s.handleSession(rec2, rec2.req)
	require.Equal(t, http.StatusNoContent, rec2.code, rec2.body.String())

	_, err := ctrl.Table("orders")
	require.NoError(t, err)
	_, err = ctrl.Table("customers")
	require.NoError(t, err)
}

func TestStatisticsEndpoint(t *testing.T) {
	ctrl := controller.NewController(controller.Options{})
	defer ctrl.Close()
	require.NoError(t, ctrl.InstallRecipe(`
		CREATE TABLE orders (id BIGINT, amount BIGINT);
		order_by_id: SELECT * FROM orders;
	`))
	s := NewServer(ctrl, conf.Defaults())

	rec := httpRecorder(http.MethodGet, "/statistics", nil)
	s.handleStatistics(rec, rec.req)
	require.Equal(t, http.StatusOK, rec.code)
	var resp statisticsResponse
	require.NoError(t, json.Unmarshal(rec.body.Bytes(), &resp))
	require.NotEmpty(t, resp.Domains)
}

// recorder is a minimal http.ResponseWriter, enough to drive the
// handlers directly without binding a real listener per test.
type recorder struct {
	req  *http.Request
	code int
	hdr  http.Header
	body *bytes.Buffer
}

func (r *recorder) Header() http.Header { return r.hdr }
func (r *recorder) Write(b []byte) (int, error) {
	if r.code == 0 {
		r.code = http.StatusOK
	}
	return r.body.Write(b)
}
func (r *recorder) WriteHeader(code int) { r.code = code }

func httpRecorder(method, path string, body []byte) *recorder {
	req, err := http.NewRequest(method, path, bytes.NewReader(body))
	if err != nil {
		panic(err)
	}
	return &recorder{req: req, hdr: make(http.Header), body: &bytes.Buffer{}}
}
