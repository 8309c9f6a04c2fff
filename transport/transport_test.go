package transport

import (
	"testing"
)

func TestParseTarget(t *testing.T) {
	tests := []struct {
		name    string
		uri     string
		want    Target
		host    string
		wantErr bool
	}{
		{
			name: "https default port",
			uri:  "https://melior.campfire.moe/graphql",
			want: Target{Scheme: "https", Host: "melior.campfire.moe", Port: 443, Path: "/graphql"},
			host: "melior.campfire.moe",
		},
		{
			name: "http explicit port no path",
			uri:  "http://127.0.0.1:8080",
			want: Target{Scheme: "http", Host: "127.0.0.1", Port: 8080, Path: "/"},
			host: "127.0.0.1:8080",
		},
		{
			name: "ipv6",
			uri:  "https://[::1]/",
			want: Target{Scheme: "https", Host: "::1", Port: 443, Path: "/"},
			host: "[::1]",
		},
		{name: "bad scheme", uri: "ftp://example.com", wantErr: true},
		{name: "no host", uri: "https:///path", wantErr: true},
		{name: "bad port", uri: "http://example.com:99999", wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := ParseTarget(tt.uri)
			if tt.wantErr {
				if err == nil {
					t.Fatalf("expected error for %q, got %+v", tt.uri, got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if got != tt.want {
				t.Errorf("ParseTarget(%q) = %+v, want %+v", tt.uri, got, tt.want)
			}
			if got.HostHeader() != tt.host {
				t.Errorf("HostHeader() = %q, want %q", got.HostHeader(), tt.host)
			}
		})
	}
}

func TestTarget_TLS(t *testing.T) {
	if !(Target{Scheme: "https"}).TLS() {
		t.Error("https target should require TLS")
	}
	if (Target{Scheme: "http"}).TLS() {
		t.Error("http target should not require TLS")
	}
}

func TestResponse_IsSuccess(t *testing.T) {
	for code, want := range map[int]bool{200: true, 204: true, 299: true, 199: false, 301: false, 404: false, 500: false} {
		if got := (&Response{StatusCode: code}).IsSuccess(); got != want {
			t.Errorf("IsSuccess(%d) = %v, want %v", code, got, want)
		}
	}
}
