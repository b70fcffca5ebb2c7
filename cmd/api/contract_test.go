package main

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"

	"github.com/getkin/kin-openapi/openapi3"
	"github.com/getkin/kin-openapi/openapi3filter"
	"github.com/getkin/kin-openapi/routers"
	"github.com/getkin/kin-openapi/routers/gorillamux"

	"github.com/recipebox/recipebox/internal/handler/dto"
	"github.com/recipebox/recipebox/internal/testutil"
)

// loadSpec loads and validates docs/api/openapi.yaml.
func loadSpec(t *testing.T) (*openapi3.T, routers.Router) {
	t.Helper()

	root, err := testutil.ProjectRoot()
	if err != nil {
		t.Fatal(err)
	}
	path := filepath.Join(root, "docs", "api", "openapi.yaml")

	loader := openapi3.NewLoader()
	spec, err := loader.LoadFromFile(path)
	if err != nil {
		t.Fatalf("failed to load OpenAPI spec from %s: %v", path, err)
	}

	if err := spec.Validate(context.Background()); err != nil {
		t.Fatalf("OpenAPI spec validation failed: %v", err)
	}

	router, err := gorillamux.NewRouter(spec)
	if err != nil {
		t.Fatalf("failed to create router from spec: %v", err)
	}

	return spec, router
}

// contractClient sends requests through the real router and checks every
// response against the documented schema for its status code.
type contractClient struct {
	env    *routerEnv
	router routers.Router
}

func (c *contractClient) call(t *testing.T, method, path, key, body string) *httptest.ResponseRecorder {
	t.Helper()

	rec := c.env.do(t, method, path, key, body)

	var reader io.Reader
	if body != "" {
		reader = strings.NewReader(body)
	}
	req := httptest.NewRequest(method, path, reader)

	route, pathParams, err := c.router.FindRoute(req)
	if err != nil {
		t.Fatalf("%s %s is not documented: %v", method, path, err)
	}

	input := &openapi3filter.ResponseValidationInput{
		RequestValidationInput: &openapi3filter.RequestValidationInput{
			Request:    req,
			PathParams: pathParams,
			Route:      route,
		},
		Status:  rec.Code,
		Header:  rec.Header(),
		Body:    io.NopCloser(bytes.NewReader(rec.Body.Bytes())),
		Options: &openapi3filter.Options{IncludeResponseStatus: true},
	}

	if err := openapi3filter.ValidateResponse(context.Background(), input); err != nil {
		t.Errorf("%s %s -> %d does not match the OpenAPI document: %v\n%s", method, path, rec.Code, err, rec.Body.String())
	}

	return rec
}

func TestOpenAPISpecValid(t *testing.T) {
	spec, _ := loadSpec(t)

	for _, path := range []string{
		"/recipes",
		"/recipes/{id}",
		"/api-keys",
		"/api-keys/{id}",
		"/api-keys/{id}/rotate",
		"/healthz",
		"/readyz",
	} {
		if spec.Paths.Find(path) == nil {
			t.Errorf("expected path %s in spec", path)
		}
	}
}

func TestContract_Recipes(t *testing.T) {
	_, router := loadSpec(t)
	c := &contractClient{env: newRouterEnv(t), router: router}
	u1, u2 := c.env.keys["U1"], c.env.keys["U2"]

	rec := c.call(t, http.MethodPost, "/recipes", u1, friedRice)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", rec.Code)
	}
	var created dto.RecipeResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	byID := "/recipes/" + created.ID

	c.call(t, http.MethodGet, "/recipes", u1, "")
	c.call(t, http.MethodGet, "/recipes", u2, "")
	c.call(t, http.MethodGet, byID, u1, "")
	c.call(t, http.MethodPatch, byID, u1, `{"step":"炒"}`)
	c.call(t, http.MethodPut, byID, u1, `{"name":"蛋炒饭","ingredient":"米饭","step":"炒"}`)

	// Error shapes.
	c.call(t, http.MethodPost, "/recipes", u2, friedRice)
	c.call(t, http.MethodPost, "/recipes", u1, `{"name":""}`)
	c.call(t, http.MethodPost, "/recipes", u1, `{not json`)
	c.call(t, http.MethodGet, "/recipes", "", "")
	c.call(t, http.MethodPost, "/recipes", c.env.reader, friedRice)
	c.call(t, http.MethodGet, byID, u2, "")
	c.call(t, http.MethodPatch, byID, u2, `{"step":"偷"}`)

	if rec := c.call(t, http.MethodDelete, byID, u1, ""); rec.Code != http.StatusNoContent {
		t.Errorf("delete: expected 204, got %d", rec.Code)
	}
	c.call(t, http.MethodDelete, byID, u1, "")
}

func TestContract_APIKeys(t *testing.T) {
	_, router := loadSpec(t)
	c := &contractClient{env: newRouterEnv(t), router: router}

	rec := c.call(t, http.MethodPost, "/api-keys", c.env.admin, `{"name":"pantry","scopes":["read","write"]}`)
	if rec.Code != http.StatusCreated {
		t.Fatalf("create: expected 201, got %d", rec.Code)
	}
	var created dto.CreatedAPIKeyResponse
	if err := json.Unmarshal(rec.Body.Bytes(), &created); err != nil {
		t.Fatal(err)
	}

	c.call(t, http.MethodGet, "/api-keys", c.env.admin, "")
	c.call(t, http.MethodPost, "/api-keys", c.env.admin, `{"scopes":["owner"]}`)
	c.call(t, http.MethodPost, "/api-keys", c.env.keys["U1"], `{"scopes":["read"]}`)
	c.call(t, http.MethodGet, "/api-keys", "", "")

	if rec := c.call(t, http.MethodPost, "/api-keys/"+created.ID+"/rotate", c.env.admin, ""); rec.Code != http.StatusCreated {
		t.Fatalf("rotate: expected 201, got %d", rec.Code)
	}
	c.call(t, http.MethodDelete, "/api-keys/"+created.ID, c.env.admin, "")
}

func TestContract_System(t *testing.T) {
	_, router := loadSpec(t)
	c := &contractClient{env: newRouterEnv(t), router: router}

	for _, path := range []string{"/", "/healthz", "/readyz", "/metrics"} {
		if rec := c.call(t, http.MethodGet, path, "", ""); rec.Code != http.StatusOK {
			t.Errorf("%s: expected 200, got %d", path, rec.Code)
		}
	}
}
