package outbox

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"example.com/stepsync/internal/events"
)

func TestEnsureSchemaRegistersMissingSubject(t *testing.T) {
	var registered string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch {
		case r.Method == http.MethodGet && r.URL.Path == "/subjects/"+events.StepSubject+"/versions/latest":
			if registered == "" {
				http.NotFound(w, r)
				return
			}
			_ = json.NewEncoder(w).Encode(map[string]int{"id": 11})
		case r.Method == http.MethodPost && r.URL.Path == "/subjects/"+events.StepSubject+"/versions":
			var body struct {
				SchemaType string `json:"schemaType"`
				Schema     string `json:"schema"`
			}
			require.NoError(t, json.NewDecoder(r.Body).Decode(&body))
			require.Equal(t, "JSON", body.SchemaType)
			registered = body.Schema
			_ = json.NewEncoder(w).Encode(map[string]int{"id": 11})
		default:
			http.Error(w, "unexpected", http.StatusTeapot)
		}
	}))
	defer srv.Close()

	client := NewSchemaRegistryClient(srv.URL + "/")
	id, err := client.EnsureSchema(context.Background(), events.StepSubject, stepsRecordedSchema)
	require.NoError(t, err)
	require.Equal(t, 11, id)
	require.Equal(t, stepsRecordedSchema, registered)

	id, err = client.EnsureSchema(context.Background(), events.StepSubject, stepsRecordedSchema)
	require.NoError(t, err)
	require.Equal(t, 11, id)
}

func TestEnsureSchemaSurfacesRegistryErrors(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		http.Error(w, "boom", http.StatusInternalServerError)
	}))
	defer srv.Close()

	_, err := NewSchemaRegistryClient(srv.URL).EnsureSchema(context.Background(), events.StepSubject, stepsRecordedSchema)
	require.ErrorContains(t, err, "boom")
}
