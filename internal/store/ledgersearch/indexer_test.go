package ledgersearch

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/elastic/go-elasticsearch/v8"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"push-engine/internal/common/logger"
	"push-engine/internal/models"
)

// fakeES serves just enough of the Elasticsearch API for the indexer.
type fakeES struct {
	mu       sync.Mutex
	indexed  []models.DeliveryAttempt
	searchFn func(w http.ResponseWriter)
	failPuts bool
}

func (f *fakeES) handler() http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("X-Elastic-Product", "Elasticsearch")
		w.Header().Set("Content-Type", "application/json")

		switch {
		case r.Method == http.MethodPut:
			if f.failPuts {
				w.WriteHeader(http.StatusInternalServerError)
				io.WriteString(w, `{"error":"boom"}`)
				return
			}
			var a models.DeliveryAttempt
			json.NewDecoder(r.Body).Decode(&a)
			f.mu.Lock()
			f.indexed = append(f.indexed, a)
			f.mu.Unlock()
			io.WriteString(w, `{"result":"created"}`)
		case f.searchFn != nil:
			f.searchFn(w)
		default:
			io.WriteString(w, `{"hits":{"hits":[]}}`)
		}
	})
}

func newTestIndexer(t *testing.T, fake *fakeES) *Indexer {
	srv := httptest.NewServer(fake.handler())
	t.Cleanup(srv.Close)

	es, err := elasticsearch.NewClient(elasticsearch.Config{Addresses: []string{srv.URL}})
	require.NoError(t, err)
	return NewIndexer(es, logger.NewTestLogger(t))
}

func testAttempt(id string) models.DeliveryAttempt {
	return models.DeliveryAttempt{
		ID:             id,
		NotificationID: "notif-1",
		Endpoint:       "https://push.example/ep-1",
		SentAt:         time.Date(2025, 6, 1, 10, 0, 0, 0, time.UTC),
		Status:         models.AttemptSent,
	}
}

func TestIndexer_Index(t *testing.T) {
	fake := &fakeES{}
	idx := newTestIndexer(t, fake)

	err := idx.Index(context.Background(), testAttempt("att-1"))
	require.NoError(t, err)

	require.Len(t, fake.indexed, 1)
	assert.Equal(t, "att-1", fake.indexed[0].ID)
	assert.Equal(t, "notif-1", fake.indexed[0].NotificationID)
}

func TestIndexer_Index_RejectionIsSwallowed(t *testing.T) {
	fake := &fakeES{failPuts: true}
	idx := newTestIndexer(t, fake)

	// Fire-and-forget: the ledger write already succeeded.
	assert.NoError(t, idx.Index(context.Background(), testAttempt("att-1")))
}

func TestIndexer_Search(t *testing.T) {
	fake := &fakeES{searchFn: func(w http.ResponseWriter) {
		json.NewEncoder(w).Encode(map[string]interface{}{
			"hits": map[string]interface{}{
				"hits": []map[string]interface{}{
					{"_source": testAttempt("att-2")},
					{"_source": testAttempt("att-1")},
				},
			},
		})
	}}
	idx := newTestIndexer(t, fake)

	out, err := idx.Search(context.Background(), "notif-1", models.AttemptSent, 10)
	require.NoError(t, err)
	require.Len(t, out, 2)
	assert.Equal(t, "att-2", out[0].ID)
	assert.Equal(t, "att-1", out[1].ID)
}

func TestMirroredLedger_Record(t *testing.T) {
	fake := &fakeES{}
	idx := newTestIndexer(t, fake)

	primary := &recordingLedger{}
	mirror := NewMirroredLedger(primary, idx)

	require.NoError(t, mirror.Record(context.Background(), testAttempt("att-1")))
	assert.Len(t, primary.attempts, 1)
	assert.Len(t, fake.indexed, 1)
}

func TestMirroredLedger_PrimaryFailureStopsMirror(t *testing.T) {
	fake := &fakeES{}
	idx := newTestIndexer(t, fake)

	primary := &recordingLedger{err: errors.New("postgres down")}
	mirror := NewMirroredLedger(primary, idx)

	assert.Error(t, mirror.Record(context.Background(), testAttempt("att-1")))
	assert.Empty(t, fake.indexed)
}

type recordingLedger struct {
	attempts []models.DeliveryAttempt
	err      error
}

func (r *recordingLedger) Record(_ context.Context, a models.DeliveryAttempt) error {
	if r.err != nil {
		return r.err
	}
	r.attempts = append(r.attempts, a)
	return nil
}
