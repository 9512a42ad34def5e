package validator

import (
	"context"
	"errors"
	"net"
	"net/http"
	"net/http/httptest"
	"testing"
)

func TestValidateFeedURL(t *testing.T) {
	v := New()

	cases := []struct {
		name    string
		url     string
		wantErr error
	}{
		{"https feed", "https://www.airbnb.com/calendar/ical/12345.ics?s=abc", nil},
		{"http feed", "http://example.com/cal.ics", nil},
		{"webcal feed", "webcal://example.com/cal.ics", nil},
		{"empty", "", ErrInvalidURL},
		{"missing host", "https://", ErrInvalidURL},
		{"bad scheme", "ftp://example.com/cal.ics", ErrInvalidURL},
		{"file scheme", "file:///etc/passwd", ErrInvalidURL},
		{"localhost", "https://localhost/cal.ics", ErrPrivateIP},
		{"localhost mixed case", "https://LocalHost:8080/cal.ics", ErrPrivateIP},
		{"loopback literal", "https://127.0.0.1/cal.ics", ErrPrivateIP},
		{"rfc1918 literal", "https://192.168.1.10/cal.ics", ErrPrivateIP},
		{"link local literal", "https://169.254.169.254/latest/meta-data", ErrPrivateIP},
		{"unspecified literal", "https://0.0.0.0/cal.ics", ErrPrivateIP},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			err := v.ValidateFeedURL(tc.url)
			if tc.wantErr == nil {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if !errors.Is(err, tc.wantErr) {
				t.Fatalf("got %v, want %v", err, tc.wantErr)
			}
		})
	}
}

func TestValidateFeedURLAllowsPrivateWhenConfigured(t *testing.T) {
	v := New(WithAllowPrivateIPs())

	for _, u := range []string{
		"https://localhost/cal.ics",
		"https://127.0.0.1:9000/cal.ics",
		"https://192.168.1.10/cal.ics",
	} {
		if err := v.ValidateFeedURL(u); err != nil {
			t.Errorf("ValidateFeedURL(%q) = %v, want nil", u, err)
		}
	}
}

func TestNormalizeFeedURL(t *testing.T) {
	cases := []struct {
		in   string
		want string
	}{
		{"webcal://example.com/cal.ics", "https://example.com/cal.ics"},
		{"https://example.com/cal.ics", "https://example.com/cal.ics"},
		{"http://example.com/cal.ics", "http://example.com/cal.ics"},
	}
	for _, tc := range cases {
		if got := NormalizeFeedURL(tc.in); got != tc.want {
			t.Errorf("NormalizeFeedURL(%q) = %q, want %q", tc.in, got, tc.want)
		}
	}
}

func TestIsPrivateIP(t *testing.T) {
	private := []string{"127.0.0.1", "10.0.0.1", "172.16.0.1", "192.168.0.1", "169.254.1.1", "0.0.0.0", "::1", "fe80::1"}
	for _, s := range private {
		if !isPrivateIP(net.ParseIP(s)) {
			t.Errorf("isPrivateIP(%s) = false, want true", s)
		}
	}
	public := []string{"8.8.8.8", "1.1.1.1", "172.32.0.1", "2606:4700::1111"}
	for _, s := range public {
		if isPrivateIP(net.ParseIP(s)) {
			t.Errorf("isPrivateIP(%s) = true, want false", s)
		}
	}
}

func TestTestConnection(t *testing.T) {
	t.Run("reachable feed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if r.Method != http.MethodHead {
				t.Errorf("expected HEAD request, got %s", r.Method)
			}
		}))
		defer srv.Close()

		v := New(WithAllowPrivateIPs())
		if err := v.TestConnection(context.Background(), srv.URL); err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
	})

	t.Run("error status is an invalid feed", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			w.WriteHeader(http.StatusNotFound)
		}))
		defer srv.Close()

		v := New(WithAllowPrivateIPs())
		err := v.TestConnection(context.Background(), srv.URL)
		if !errors.Is(err, ErrInvalidFeed) {
			t.Fatalf("got %v, want ErrInvalidFeed", err)
		}
	})

	t.Run("validation failure short-circuits", func(t *testing.T) {
		v := New()
		err := v.TestConnection(context.Background(), "ftp://example.com/cal.ics")
		if !errors.Is(err, ErrInvalidURL) {
			t.Fatalf("got %v, want ErrInvalidURL", err)
		}
	})

	t.Run("unreachable host is a connection failure", func(t *testing.T) {
		srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
		url := srv.URL
		srv.Close()

		v := New(WithAllowPrivateIPs())
		err := v.TestConnection(context.Background(), url)
		if !errors.Is(err, ErrConnectionFailed) {
			t.Fatalf("got %v, want ErrConnectionFailed", err)
		}
	})
}
