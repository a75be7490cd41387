package handlers_test

import (
	"encoding/json"
	"errors"
	"log"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/labstack/echo/v4"

	"github.com/anvilworks/anvil/cmd/anvild/handlers"
	apinodes "github.com/anvilworks/anvil/pkg/api/types/nodes"
	apires "github.com/anvilworks/anvil/pkg/api/types/resources"
	"github.com/anvilworks/anvil/pkg/domain/ratelimit"
	"github.com/anvilworks/anvil/pkg/domain/reservation"
	resmemstore "github.com/anvilworks/anvil/pkg/domain/reservation/memstore"
	"github.com/anvilworks/anvil/pkg/domain/resource"
	"github.com/anvilworks/anvil/pkg/domain/resource/memstore"
)

func quietLogger() *log.Logger {
	return log.New(discard{}, "", 0)
}

type discard struct{}

func (discard) Write(p []byte) (int, error) { return len(p), nil }

func httpErrorCode(t *testing.T, err error) int {
	t.Helper()
	httpErr := new(echo.HTTPError)
	if !errors.As(err, &httpErr) {
		t.Fatalf("not an HTTP error: %+v", err)
	}
	return httpErr.Code
}

func TestGetResourceHandler(t *testing.T) {
	t.Run("it responds the record of a known resource", func(t *testing.T) {
		store := memstore.NewWith(resource.Resource{
			Id: "res-1", Kind: resource.Application, Name: "web", Owner: "alice",
			Status: resource.Deployed, Handle: "web.cluster.local",
		})
		testee := handlers.GetResourceHandler(store, "resourceId")

		e := echo.New()
		rec := httptest.NewRecorder()
		c := e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		c.SetParamNames("resourceId")
		c.SetParamValues("res-1")

		if err := testee(c); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}
		if rec.Code != http.StatusOK {
			t.Errorf("status: %d", rec.Code)
		}

		detail := apires.Detail{}
		if err := json.Unmarshal(rec.Body.Bytes(), &detail); err != nil {
			t.Fatalf("response is not JSON: %+v", err)
		}
		if detail.ResourceId != "res-1" || detail.Status != "deployed" {
			t.Errorf("detail: %+v", detail)
		}
		if detail.Handle != "web.cluster.local" {
			t.Errorf("handle: %s", detail.Handle)
		}
	})

	t.Run("it responds 404 for an unknown resource", func(t *testing.T) {
		testee := handlers.GetResourceHandler(memstore.New(), "resourceId")

		e := echo.New()
		c := e.NewContext(
			httptest.NewRequest(http.MethodGet, "/", nil), httptest.NewRecorder(),
		)
		c.SetParamNames("resourceId")
		c.SetParamValues("no-such")

		if code := httpErrorCode(t, testee(c)); code != http.StatusNotFound {
			t.Errorf("status: %d", code)
		}
	})
}

func TestDeployHandler(t *testing.T) {
	t.Run("it responds 409 while another deploy is in flight", func(t *testing.T) {
		store := memstore.NewWith(resource.Resource{
			Id: "res-1", Kind: resource.Application, Status: resource.Deploying,
		})
		testee := handlers.DeployHandler(nil, store, "resourceId")

		e := echo.New()
		c := e.NewContext(
			httptest.NewRequest(http.MethodPut, "/", nil), httptest.NewRecorder(),
		)
		c.SetParamNames("resourceId")
		c.SetParamValues("res-1")

		if code := httpErrorCode(t, testee(c)); code != http.StatusConflict {
			t.Errorf("status: %d", code)
		}
	})
}

func TestRateLimit(t *testing.T) {
	t.Run("it responds 429 once the caller's bucket is drained", func(t *testing.T) {
		limiter := ratelimit.NewAPIKeyLimiter(1)
		ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
		testee := handlers.RateLimit(limiter, handlers.APIKeyIdentity)(ok)

		e := echo.New()
		request := func() error {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(handlers.HeaderAPIKey, "key-a")
			return testee(e.NewContext(req, httptest.NewRecorder()))
		}

		if err := request(); err != nil {
			t.Fatalf("first request rejected: %+v", err)
		}
		if code := httpErrorCode(t, request()); code != http.StatusTooManyRequests {
			t.Errorf("status: %d", code)
		}
	})

	t.Run("it does not throttle an unrelated caller", func(t *testing.T) {
		limiter := ratelimit.NewAPIKeyLimiter(1)
		ok := func(c echo.Context) error { return c.NoContent(http.StatusOK) }
		testee := handlers.RateLimit(limiter, handlers.APIKeyIdentity)(ok)

		e := echo.New()
		request := func(key string) error {
			req := httptest.NewRequest(http.MethodGet, "/", nil)
			req.Header.Set(handlers.HeaderAPIKey, key)
			return testee(e.NewContext(req, httptest.NewRecorder()))
		}

		request("key-a")
		request("key-a")
		if err := request("key-b"); err != nil {
			t.Errorf("key-b throttled by key-a: %+v", err)
		}
	})
}

func newNodeService() *reservation.Service {
	return reservation.New(
		resmemstore.New(),
		reservation.NewHS256Issuer([]byte("test-signing-key"), "anvil-test"),
		time.Hour,
		quietLogger(),
	)
}

func TestReserveNodeHandler(t *testing.T) {
	t.Run("it grants a reservation to the logged-in user", func(t *testing.T) {
		testee := handlers.ReserveNodeHandler(newNodeService())

		e := echo.New()
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set(handlers.HeaderLogin, "alice")
		rec := httptest.NewRecorder()

		if err := testee(e.NewContext(req, rec)); err != nil {
			t.Fatalf("unexpected error: %+v", err)
		}

		granted := apinodes.Reservation{}
		if err := json.Unmarshal(rec.Body.Bytes(), &granted); err != nil {
			t.Fatalf("response is not JSON: %+v", err)
		}
		if granted.Login != "alice" {
			t.Errorf("login: %s", granted.Login)
		}
		if granted.SmId == "" {
			t.Error("no credential in the response")
		}
		if len(granted.ShortSmId) != 10 {
			t.Errorf("compact node id: %q", granted.ShortSmId)
		}
	})

	t.Run("it responds 400 without a login header", func(t *testing.T) {
		testee := handlers.ReserveNodeHandler(newNodeService())

		e := echo.New()
		c := e.NewContext(
			httptest.NewRequest(http.MethodPost, "/", nil), httptest.NewRecorder(),
		)
		if code := httpErrorCode(t, testee(c)); code != http.StatusBadRequest {
			t.Errorf("status: %d", code)
		}
	})
}

func TestNodeErrorHandlers(t *testing.T) {
	t.Run("it records a report and reads it back", func(t *testing.T) {
		service := newNodeService()
		e := echo.New()

		reserve := handlers.ReserveNodeHandler(service)
		req := httptest.NewRequest(http.MethodPost, "/", nil)
		req.Header.Set(handlers.HeaderLogin, "alice")
		rec := httptest.NewRecorder()
		if err := reserve(e.NewContext(req, rec)); err != nil {
			t.Fatalf("reservation failed: %+v", err)
		}
		granted := apinodes.Reservation{}
		if err := json.Unmarshal(rec.Body.Bytes(), &granted); err != nil {
			t.Fatalf("reservation response is not JSON: %+v", err)
		}

		report := handlers.ReportNodeErrorHandler(service, "shortSmId")
		req = httptest.NewRequest(
			http.MethodPost, "/", strings.NewReader(`{"message": "bootstrap failed"}`),
		)
		rec = httptest.NewRecorder()
		c := e.NewContext(req, rec)
		c.SetParamNames("shortSmId")
		c.SetParamValues(granted.ShortSmId)
		if err := report(c); err != nil {
			t.Fatalf("report failed: %+v", err)
		}
		if rec.Code != http.StatusNoContent {
			t.Errorf("report status: %d", rec.Code)
		}

		read := handlers.GetNodeErrorsHandler(service, "shortSmId")
		rec = httptest.NewRecorder()
		c = e.NewContext(httptest.NewRequest(http.MethodGet, "/", nil), rec)
		c.SetParamNames("shortSmId")
		c.SetParamValues(granted.ShortSmId)
		if err := read(c); err != nil {
			t.Fatalf("read failed: %+v", err)
		}

		records := []apinodes.ErrorRecord{}
		if err := json.Unmarshal(rec.Body.Bytes(), &records); err != nil {
			t.Fatalf("response is not JSON: %+v", err)
		}
		if len(records) != 1 || records[0].Message != "bootstrap failed" {
			t.Errorf("records: %+v", records)
		}
	})

	t.Run("it responds 400 for a report without a message", func(t *testing.T) {
		testee := handlers.ReportNodeErrorHandler(newNodeService(), "shortSmId")

		e := echo.New()
		c := e.NewContext(
			httptest.NewRequest(http.MethodPost, "/", strings.NewReader(`{}`)),
			httptest.NewRecorder(),
		)
		c.SetParamNames("shortSmId")
		c.SetParamValues("0000000042")

		if code := httpErrorCode(t, testee(c)); code != http.StatusBadRequest {
			t.Errorf("status: %d", code)
		}
	})

	t.Run("it responds 404 for an unknown node id", func(t *testing.T) {
		testee := handlers.ReportNodeErrorHandler(newNodeService(), "shortSmId")

		e := echo.New()
		c := e.NewContext(
			httptest.NewRequest(
				http.MethodPost, "/", strings.NewReader(`{"message": "lost"}`),
			),
			httptest.NewRecorder(),
		)
		c.SetParamNames("shortSmId")
		c.SetParamValues("0000000042")

		if code := httpErrorCode(t, testee(c)); code != http.StatusNotFound {
			t.Errorf("status: %d", code)
		}
	})
}
