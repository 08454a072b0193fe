package httpexec

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/HoomanBuilds/nosana-chat/features/deploy"
)

func TestExecutePostsActionAndDecodesOutcome(t *testing.T) {
	var got struct {
		Action string          `json:"action"`
		Args   json.RawMessage `json:"args"`
	}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		require.Equal(t, "Bearer sk-test", r.Header.Get("Authorization"))
		require.NoError(t, json.NewDecoder(r.Body).Decode(&got))
		json.NewEncoder(w).Encode(deploy.Outcome{Success: true, Summary: "job at 9xQe"})
	}))
	defer srv.Close()

	e, err := New(srv.URL, "sk-test", nil)
	require.NoError(t, err)

	out, err := e.Execute(context.Background(), deploy.ActionCreateJob, json.RawMessage(`{"image":"ubuntu"}`))
	require.NoError(t, err)
	require.True(t, out.Success)
	require.Equal(t, "job at 9xQe", out.Summary)
	require.Equal(t, "createJob", got.Action)
	require.JSONEq(t, `{"image":"ubuntu"}`, string(got.Args))
}

func TestExecuteSurfacesServiceFailure(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		json.NewEncoder(w).Encode(deploy.Outcome{Success: false, Summary: "insufficient balance"})
	}))
	defer srv.Close()

	e, err := New(srv.URL, "", nil)
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), deploy.ActionStopJob, json.RawMessage(`{}`))
	require.ErrorContains(t, err, "insufficient balance")
}

func TestExecuteSurfacesHTTPError(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "unauthorized", http.StatusUnauthorized)
	}))
	defer srv.Close()

	e, err := New(srv.URL, "", nil)
	require.NoError(t, err)

	_, err = e.Execute(context.Background(), deploy.ActionExtendJob, json.RawMessage(`{}`))
	require.ErrorContains(t, err, "status 401")
}

func TestNewRequiresEndpoint(t *testing.T) {
	_, err := New("", "", nil)
	require.Error(t, err)
}
