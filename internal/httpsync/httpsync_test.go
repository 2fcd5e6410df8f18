package httpsync

import (
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/yungbote/syncqueue/internal/syncclient"
)

func TestClassifyStatusCodes(t *testing.T) {
	cases := map[int]syncclient.ErrorKind{
		http.StatusUnauthorized:            syncclient.KindAuth,
		http.StatusForbidden:               syncclient.KindAuth,
		http.StatusNotFound:                syncclient.KindNotFound,
		http.StatusTooManyRequests:         syncclient.KindRateLimited,
		http.StatusBadRequest:              syncclient.KindPermanentData,
		http.StatusUnprocessableEntity:     syncclient.KindPermanentData,
		http.StatusServiceUnavailable:      syncclient.KindDownstreamDown,
		http.StatusInternalServerError:     syncclient.KindTransient,
		http.StatusHTTPVersionNotSupported: syncclient.KindTransient,
	}
	for status, want := range cases {
		err := classifyStatus(status)
		if err == nil {
			t.Fatalf("status %d: expected an error", status)
		}
		if got := Classify(err); got != want {
			t.Fatalf("status %d: Classify() = %s, want %s", status, got, want)
		}
	}
}

func TestClassifyStatusSuccessIsNil(t *testing.T) {
	if err := classifyStatus(http.StatusOK); err != nil {
		t.Fatalf("expected nil error for 200, got %v", err)
	}
}

func TestSyncClassifiesTransportError(t *testing.T) {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	a := New(Config{BaseURL: "http://127.0.0.1:1"})
	err := a.Sync(ctx, syncclient.ScenePayload{"scene_id": "s1"})
	if err == nil {
		t.Fatal("expected a transport error against an unreachable host")
	}
	if got := Classify(err); got != syncclient.KindTransient {
		t.Fatalf("expected KindTransient, got %s", got)
	}
}

func TestFindSceneDistinguishesNotFoundFromExists(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/scenes/exists":
			w.WriteHeader(http.StatusOK)
		case "/scenes/missing":
			w.WriteHeader(http.StatusNotFound)
		default:
			w.WriteHeader(http.StatusInternalServerError)
		}
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL})
	ctx := context.Background()

	exists, err := a.FindScene(ctx, "exists")
	if err != nil || !exists {
		t.Fatalf("expected exists=true, err=nil; got exists=%v err=%v", exists, err)
	}

	exists, err = a.FindScene(ctx, "missing")
	if err != nil || exists {
		t.Fatalf("expected exists=false, err=nil; got exists=%v err=%v", exists, err)
	}
}

func TestProbeUsesHealthzEndpoint(t *testing.T) {
	var hitPath string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		hitPath = r.URL.Path
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	a := New(Config{BaseURL: srv.URL})
	if err := a.Probe(context.Background(), time.Second); err != nil {
		t.Fatalf("Probe: %v", err)
	}
	if hitPath != "/healthz" {
		t.Fatalf("expected /healthz, got %s", hitPath)
	}
}
