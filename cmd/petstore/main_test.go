package main

import (
	"bytes"
	"context"
	"net/http"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
	"gopkg.in/yaml.v3"

	"github.com/bjaus/lessweb"
	"github.com/bjaus/lessweb/apitest"
	"github.com/bjaus/lessweb/config"
)

func writeConfig(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "petstore.toml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func newTestApp(t *testing.T, content string) (*lessweb.App, *observer.ObservedLogs) {
	t.Helper()
	cfg, err := config.Load(writeConfig(t, content), config.WithLookupEnv(func(string) (string, bool) { return "", false }))
	require.NoError(t, err)

	core, logs := observer.New(zap.InfoLevel)
	app, err := newApp(cfg, zap.New(core))
	require.NoError(t, err)
	return app, logs
}

func ids(pets []Pet) []PetID {
	out := make([]PetID, len(pets))
	for i, p := range pets {
		out[i] = p.ID
	}
	return out
}

func TestPetstore_pets(t *testing.T) {
	t.Parallel()

	app, logs := newTestApp(t, "")
	c := apitest.NewClient(t, app)

	all := apitest.Get[[]Pet](t, c, "/pets")
	require.Equal(t, http.StatusOK, all.Status)
	assert.Equal(t, []PetID{1, 2}, ids(*all.Body))

	born := apitest.Post[map[string]any, Pet](t, c, "/pet", &map[string]any{
		"name":    "Bella",
		"species": "DOG",
		"tags":    []string{"good", "small"},
		"born":    "2021-03-04T00:00:00Z",
	})
	require.Equal(t, http.StatusCreated, born.Status)
	assert.Equal(t, PetID(3), born.Body.ID)
	assert.Equal(t, Dog, born.Body.Species)

	tests := map[string]struct {
		target string
		want   []PetID
	}{
		"species":    {target: "/pets?species=CAT", want: []PetID{1}},
		"tags":       {target: "/pets?tags=good,small", want: []PetID{3}},
		"born after": {target: "/pets?born_after=2020-01-01", want: []PetID{3}},
		"desc limit": {target: "/pets?order=desc&limit=2", want: []PetID{3, 2}},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			resp := apitest.Get[[]Pet](t, c, tc.target)
			require.Equal(t, http.StatusOK, resp.Status)
			assert.Equal(t, tc.want, ids(*resp.Body))
		})
	}

	one := apitest.Get[Pet](t, c, "/pet/2")
	require.Equal(t, http.StatusOK, one.Status)
	assert.Equal(t, "Rex", one.Body.Name)

	deleted := apitest.Delete[struct{}](t, c, "/pet/2")
	assert.Equal(t, http.StatusNoContent, deleted.Status)

	missing := apitest.Get[Pet](t, c, "/pet/2")
	require.Equal(t, http.StatusNotFound, missing.Status)
	require.NotNil(t, missing.Problem)
	assert.Equal(t, "pet 2 not found", missing.Problem.Detail)

	batch := apitest.Put[[]map[string]any, []Pet](t, c, "/pets", &[]map[string]any{
		{"name": "Kit", "species": "CAT"},
		{"name": "Max", "species": "DOG"},
	})
	require.Equal(t, http.StatusCreated, batch.Status)
	assert.Equal(t, []PetID{4, 5}, ids(*batch.Body))

	assert.Equal(t, 3, logs.FilterMessage("audit").FilterField(zap.String("action", "create")).Len())
	assert.Equal(t, 1, logs.FilterMessage("audit").FilterField(zap.String("action", "delete")).Len())
}

func TestPetstore_badInput(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t, "")
	c := apitest.NewClient(t, app)

	tests := map[string]struct {
		resp  func() *apitest.Response[Pet]
		field string
	}{
		"unknown species": {
			resp:  func() *apitest.Response[Pet] { return apitest.Get[Pet](t, c, "/pets?species=BIRD") },
			field: "species",
		},
		"bad order": {
			resp:  func() *apitest.Response[Pet] { return apitest.Get[Pet](t, c, "/pets?order=up") },
			field: "order",
		},
		"missing name": {
			resp: func() *apitest.Response[Pet] {
				return apitest.Post[map[string]any, Pet](t, c, "/pet", &map[string]any{"species": "CAT"})
			},
			field: "pet.name",
		},
	}
	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			resp := tc.resp()
			require.Equal(t, http.StatusBadRequest, resp.Status)
			require.NotNil(t, resp.Problem)
			require.NotEmpty(t, resp.Problem.Errors)
			assert.Equal(t, tc.field, resp.Problem.Errors[0].Field)
		})
	}
}

func TestPetstore_adoption(t *testing.T) {
	t.Parallel()

	app, logs := newTestApp(t, "")
	c := apitest.NewClient(t, app)

	resp := apitest.Post[struct{}, Pet](t, c, "/pet/1/adoption", &struct{}{})
	require.Equal(t, http.StatusOK, resp.Status)
	assert.True(t, resp.Body.Adopted)
	require.NoError(t, app.Emitter().Wait())

	adopted := logs.FilterMessage("audit").FilterField(zap.String("action", "adopted"))
	require.Equal(t, 1, adopted.Len())
	assert.Equal(t, "pet_adopted", adopted.All()[0].ContextMap()["event"])

	again := apitest.Post[struct{}, Pet](t, c, "/pet/1/adoption", &struct{}{})
	assert.Equal(t, http.StatusConflict, again.Status)

	missing := apitest.Post[struct{}, Pet](t, c, "/pet/9/adoption", &struct{}{})
	assert.Equal(t, http.StatusNotFound, missing.Status)
}

func TestPetstore_apiKey(t *testing.T) {
	t.Parallel()

	app, logs := newTestApp(t, "[petstore]\napi_key = \"s3cret\"\n")
	c := apitest.NewClient(t, app)
	pet := &map[string]any{"name": "Kit", "species": "CAT"}

	denied := apitest.Post[map[string]any, Pet](t, c, "/pet", pet)
	require.Equal(t, http.StatusUnauthorized, denied.Status)
	assert.Equal(t, "missing or invalid API key", denied.Problem.Detail)

	assert.Equal(t, http.StatusOK, apitest.Get[[]Pet](t, c, "/pets").Status)

	c.Header.Set("X-Api-Key", "s3cret")
	assert.Equal(t, http.StatusCreated, apitest.Post[map[string]any, Pet](t, c, "/pet", pet).Status)

	require.Equal(t, http.StatusOK, apitest.Post[struct{}, Pet](t, c, "/pet/2/adoption", &struct{}{}).Status)
	require.NoError(t, app.Emitter().Wait())
	assert.Equal(t, 1, logs.FilterMessage("audit").FilterField(zap.String("action", "adopted")).Len())
}

func TestPetstore_health(t *testing.T) {
	t.Parallel()

	app, _ := newTestApp(t, "[petstore]\nrate_limit = 0.001\nburst = 2\n")
	c := apitest.NewClient(t, app)

	get := apitest.Get[map[string]string](t, c, "/health")
	require.Equal(t, http.StatusOK, get.Status)
	assert.Equal(t, "ok", (*get.Body)["status"])
	assert.NotEmpty(t, get.Headers.Get("X-Request-ID"))

	assert.Equal(t, http.StatusOK, apitest.Delete[map[string]string](t, c, "/health").Status)
	assert.Equal(t, http.StatusTooManyRequests, apitest.Get[map[string]string](t, c, "/health").Status)
}

func TestPetstore_visits(t *testing.T) {
	t.Parallel()

	mr := miniredis.RunT(t)
	app, _ := newTestApp(t, "[redis]\naddr = \""+mr.Addr()+"\"\nprefix = \"petstore\"\n")
	c := apitest.NewClient(t, app)

	var last *apitest.Response[Visits]
	for range 2 {
		last = apitest.Post[struct{}, Visits](t, c, "/pet/1/visits", &struct{}{})
		require.Equal(t, http.StatusOK, last.Status)
	}
	assert.Equal(t, Visits{PetID: 1, Count: 2}, *last.Body)

	got, err := mr.Get("petstore:visits:1")
	require.NoError(t, err)
	assert.Equal(t, "2", got)

	assert.Equal(t, http.StatusNotFound, apitest.Post[struct{}, Visits](t, c, "/pet/9/visits", &struct{}{}).Status)
}

func TestRoutesCmd(t *testing.T) {
	t.Parallel()

	tests := map[string]struct {
		config string
		want   []string
	}{
		"default": {
			want: []string{"get_pets", "get_pet", "post_pet", "put_pets", "delete_pet", "post_adoption", "on_pet_adopted"},
		},
		"with redis": {
			config: "[redis]\naddr = \"127.0.0.1:1\"\n",
			want:   []string{"get_pets", "get_pet", "post_pet", "put_pets", "delete_pet", "post_adoption", "post_visit", "on_pet_adopted"},
		},
	}

	for name, tc := range tests {
		t.Run(name, func(t *testing.T) {
			t.Parallel()

			var out bytes.Buffer
			cmd := newRootCmd()
			cmd.SetOut(&out)
			cmd.SetArgs([]string{"routes", "--config", writeConfig(t, tc.config)})
			require.NoError(t, cmd.Execute())

			var m lessweb.Manifest
			require.NoError(t, yaml.Unmarshal(out.Bytes(), &m))
			handlers := make([]string, 0, len(m.Routes))
			for _, r := range m.Routes {
				handlers = append(handlers, r.Handler)
			}
			assert.ElementsMatch(t, tc.want, handlers)
		})
	}
}

func TestServeCmd(t *testing.T) {
	t.Parallel()

	t.Run("missing config file", func(t *testing.T) {
		t.Parallel()

		cmd := newRootCmd()
		cmd.SetOut(&bytes.Buffer{})
		cmd.SetErr(&bytes.Buffer{})
		cmd.SetArgs([]string{"serve", "--config", filepath.Join(t.TempDir(), "nope.toml")})
		err := cmd.Execute()
		require.Error(t, err)
		assert.Contains(t, err.Error(), "config: read")
	})

	t.Run("stops when canceled", func(t *testing.T) {
		t.Parallel()

		path := writeConfig(t, "[bootstrap]\nhost = \"127.0.0.1\"\nport = 0\n[logger]\nlevel = \"error\"\n")
		ctx, cancel := context.WithTimeout(context.Background(), 200*time.Millisecond)
		defer cancel()

		cmd := newRootCmd()
		cmd.SetArgs([]string{"serve", "--config", path})
		require.NoError(t, cmd.ExecuteContext(ctx))
	})
}
