package routerapi

import (
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"context"
)

func newTestServer(t *testing.T, password string) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/api/v1/login", func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Query().Get("password") != password {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		http.SetCookie(w, &http.Cookie{Name: "BBOX_ID", Value: "session-token"})
		w.WriteHeader(http.StatusOK)
	})
	mux.HandleFunc("/api/v1/hosts", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Cookie") == "" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		_ = json.NewEncoder(w).Encode([]bboxDeviceEntry{
			{MACAddress: "aa:bb:cc:dd:ee:ff", IPAddress: "192.168.1.10", Hostname: "laptop", Active: 1},
		})
	})
	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return srv
}

func TestBboxClientListDevicesAuthenticatesThenFetches(t *testing.T) {
	srv := newTestServer(t, "correct-password")
	client, err := NewBboxClient(srv.URL, "correct-password")
	if err != nil {
		t.Fatalf("NewBboxClient: %v", err)
	}

	devices, err := client.ListDevices(context.Background())
	if err != nil {
		t.Fatalf("ListDevices: %v", err)
	}
	if len(devices) != 1 || devices[0].DisplayName != "laptop" {
		t.Fatalf("got %+v, want one device named laptop", devices)
	}
	if !devices[0].IsOnline {
		t.Fatal("expected device to be online")
	}
}

func TestBboxClientWrongPasswordFailsAuthentication(t *testing.T) {
	srv := newTestServer(t, "correct-password")
	client, err := NewBboxClient(srv.URL, "wrong-password")
	if err != nil {
		t.Fatalf("NewBboxClient: %v", err)
	}

	_, err = client.ListDevices(context.Background())
	if !errors.Is(err, ErrAuthenticationFailed) {
		t.Fatalf("got %v, want ErrAuthenticationFailed", err)
	}
}

func TestBboxClientInvalidBaseURL(t *testing.T) {
	if _, err := NewBboxClient("://not-a-url", "pw"); err == nil {
		t.Fatal("expected an error for a malformed base URL")
	}
}
