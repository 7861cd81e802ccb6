package aggregator_test

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync/atomic"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/stplan/sheetsweep/internal/aggregator"
)

func getTestClient(t *testing.T, handler http.Handler) *aggregator.Client {
	t.Helper()

	server := httptest.NewServer(handler)
	t.Cleanup(server.Close)

	client, err := aggregator.NewClient(aggregator.ClientConfig{
		BaseURL:    server.URL,
		MaxRetries: 3,
	})
	require.NoError(t, err)

	return client
}

func TestClientInsertRecord(t *testing.T) {
	assert := assert.New(t)

	var got aggregator.Record
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(http.MethodPost, r.Method)
		assert.Equal("/InsertTemplateParam", r.URL.Path)
		assert.Equal("application/json", r.Header.Get("Content-Type"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		w.WriteHeader(http.StatusCreated)
	})

	client := getTestClient(t, handler)

	err := client.InsertRecord(context.TODO(), aggregator.Record{
		SubjectID:  "task1",
		StepIndex:  3,
		Parameters: map[string]string{"B1": "2"},
		Metrics:    map[string]string{"D2": "42.5"},
	})

	require.NoError(t, err)
	assert.Equal("task1", got.SubjectID)
	assert.Equal(3, got.StepIndex)
	assert.Equal(map[string]string{"B1": "2"}, got.Parameters)
	assert.Equal(map[string]string{"D2": "42.5"}, got.Metrics)
}

func TestClientInsertRecordRetriesServerErrors(t *testing.T) {
	assert := assert.New(t)

	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if atomic.AddInt32(&calls, 1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	})

	client := getTestClient(t, handler)

	err := client.InsertRecord(context.TODO(), aggregator.Record{SubjectID: "task1"})

	assert.NoError(err)
	assert.Equal(int32(3), atomic.LoadInt32(&calls))
}

func TestClientInsertRecordDoesNotRetryClientErrors(t *testing.T) {
	assert := assert.New(t)

	var calls int32
	handler := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		atomic.AddInt32(&calls, 1)
		http.Error(w, "bad payload", http.StatusBadRequest)
	})

	client := getTestClient(t, handler)

	err := client.InsertRecord(context.TODO(), aggregator.Record{SubjectID: "task1"})

	assert.Error(err)
	assert.Contains(err.Error(), "400")
	assert.Equal(int32(1), atomic.LoadInt32(&calls))
}

func TestClientLatestRecord(t *testing.T) {
	tests := map[string]struct {
		handler   http.HandlerFunc
		expRecord *aggregator.Record
		expOK     bool
		expErr    bool
	}{
		"An existing record should be returned.": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				assert.Equal(t, "/GetSingleTemplateParam", r.URL.Path)
				assert.Equal(t, "task1", r.URL.Query().Get("subject_id"))
				_ = json.NewEncoder(w).Encode(aggregator.Record{SubjectID: "task1", StepIndex: 7})
			},
			expRecord: &aggregator.Record{SubjectID: "task1", StepIndex: 7},
			expOK:     true,
		},

		"A missing subject should report no record without error.": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				http.Error(w, "no records", http.StatusNotFound)
			},
		},

		"A null body should report no record without error.": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("null"))
			},
		},

		"A malformed body should fail.": {
			handler: func(w http.ResponseWriter, r *http.Request) {
				_, _ = w.Write([]byte("{nope"))
			},
			expErr: true,
		},
	}

	for name, test := range tests {
		t.Run(name, func(t *testing.T) {
			assert := assert.New(t)
			client := getTestClient(t, test.handler)

			record, ok, err := client.LatestRecord(context.TODO(), "task1")

			if test.expErr {
				assert.Error(err)
				return
			}
			require.NoError(t, err)
			assert.Equal(test.expOK, ok)
			assert.Equal(test.expRecord, record)
		})
	}
}
