package transport

import (
	"context"
	"net/http"
	"testing"

	"github.com/straln/braidcore/internal/httputil"
	"github.com/straln/braidcore/internal/wire"
)

func TestAuthedClient_InjectsTokenOnFirstContact(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	mock.AddResponse(200, "ok")

	c := NewAuthedClient(mock, "secret")
	_, err := c.Get(context.Background(), "http://cam-a.local/callback")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}

	req := mock.GetRequest(0)
	if req.URL.Query().Get(TokenQueryParam) != "secret" {
		t.Errorf("expected token query param, got %q", req.URL.RawQuery)
	}
}

func TestAuthedClient_UsesCookieAfterSeen(t *testing.T) {
	mock := httputil.NewMockHTTPClient()
	first := &http.Response{
		StatusCode: 200,
		Body:       http.NoBody,
		Header:     http.Header{"Set-Cookie": []string{TokenCookieName + "=secret"}},
	}
	calls := 0
	mock.DoFunc = func(req *http.Request) (*http.Response, error) {
		calls++
		if calls == 1 {
			return first, nil
		}
		if req.URL.Query().Get(TokenQueryParam) != "" {
			t.Error("expected no token query param once cookie has been seen")
		}
		var found bool
		for _, ck := range req.Cookies() {
			if ck.Name == TokenCookieName && ck.Value == "secret" {
				found = true
			}
		}
		if !found {
			t.Error("expected cookie to be sent on second request")
		}
		return &http.Response{StatusCode: 200, Body: http.NoBody, Header: http.Header{}}, nil
	}

	c := NewAuthedClient(mock, "secret")
	if _, err := c.Get(context.Background(), "http://cam-a.local/callback"); err != nil {
		t.Fatalf("first Get: %v", err)
	}
	if _, err := c.Get(context.Background(), "http://cam-a.local/callback"); err != nil {
		t.Fatalf("second Get: %v", err)
	}
}

func TestSnapshotBus_LatestNilUntilPublish(t *testing.T) {
	b := NewSnapshotBus[int]()
	if b.Latest() != nil {
		t.Error("expected nil before first Publish")
	}
	b.Publish(42)
	got := b.Latest()
	if got == nil || *got != 42 {
		t.Errorf("Latest() = %v, want 42", got)
	}
}

func TestClockModelBus_PublishFanout(t *testing.T) {
	bus := NewClockModelBus()
	id1, ch1 := bus.Subscribe()
	_, ch2 := bus.Subscribe()
	defer bus.Unsubscribe(id1)

	model := wire.ClockModel{Gain: 1, Offset: 2, NMeasurements: 5}
	bus.Publish(model)

	select {
	case got := <-ch1:
		if got != model {
			t.Errorf("ch1 got %+v, want %+v", got, model)
		}
	default:
		t.Error("ch1 did not receive published model")
	}

	select {
	case got := <-ch2:
		if got != model {
			t.Errorf("ch2 got %+v, want %+v", got, model)
		}
	default:
		t.Error("ch2 did not receive published model")
	}
}

func TestClockModelBus_UnsubscribeClosesChannel(t *testing.T) {
	bus := NewClockModelBus()
	id, ch := bus.Subscribe()
	bus.Unsubscribe(id)

	_, ok := <-ch
	if ok {
		t.Error("expected channel closed after Unsubscribe")
	}
}
