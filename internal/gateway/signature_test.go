package gateway

import (
	"errors"
	"strings"
	"testing"
)

func TestChecksumFormat(t *testing.T) {
	t.Parallel()

	got := Checksum("cGF5bG9hZA==", "/pg/v1/pay", "salt", 1)
	digest, index, ok := strings.Cut(got, "###")
	if !ok {
		t.Fatalf("expected ### separator in %q", got)
	}
	if len(digest) != 64 {
		t.Fatalf("expected hex sha256 digest, got %q", digest)
	}
	if index != "1" {
		t.Fatalf("expected salt index 1, got %q", index)
	}
}

func TestVerifyChecksum(t *testing.T) {
	t.Parallel()

	valid := Checksum("body", "", "salt", 2)

	tests := []struct {
		name    string
		header  string
		payload string
		wantErr bool
	}{
		{name: "valid", header: valid, payload: "body"},
		{name: "uppercase digest", header: strings.ToUpper(strings.TrimSuffix(valid, "###2")) + "###2", payload: "body"},
		{name: "missing", header: "", payload: "body", wantErr: true},
		{name: "no separator", header: strings.TrimSuffix(valid, "###2"), payload: "body", wantErr: true},
		{name: "wrong index", header: strings.TrimSuffix(valid, "2") + "3", payload: "body", wantErr: true},
		{name: "tampered payload", header: valid, payload: "body2", wantErr: true},
	}

	for _, tt := range tests {
		tt := tt
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			err := VerifyChecksum(tt.header, tt.payload, "", "salt", 2)
			if tt.wantErr {
				if !errors.Is(err, ErrInvalidSignature) {
					t.Fatalf("expected ErrInvalidSignature, got %v", err)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
		})
	}
}
