package storage

import (
	"errors"
	"reflect"
	"testing"
)

func TestCodec_RoundTrip(t *testing.T) {
	var codec Codec

	auth := &Authentication{
		ClientID:          "c1",
		Scopes:            []string{"read", "write"},
		ResourceIDs:       []string{"api"},
		RedirectURI:       "https://client.example/cb",
		RequestParameters: map[string]string{"response_type": "code", "device_id": "phone"},
		Authorities:       []string{"ROLE_USER"},
		UserName:          "u1",
		Authenticated:     true,
	}

	encoded, err := codec.Encode(auth)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}

	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if !reflect.DeepEqual(auth, decoded) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", decoded, auth)
	}
}

func TestCodec_RoundTripClientCredentials(t *testing.T) {
	var codec Codec

	// Client-credentials grants have no user principal.
	auth := &Authentication{
		ClientID:      "c1",
		Scopes:        []string{"batch"},
		Authenticated: true,
	}

	encoded, err := codec.Encode(auth)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if decoded.Name() != "" {
		t.Errorf("Name() = %q, want empty for client-credentials context", decoded.Name())
	}
	if !reflect.DeepEqual(auth, decoded) {
		t.Errorf("round trip mismatch:\n got  %+v\n want %+v", decoded, auth)
	}
}

func TestCodec_RoundTripExtensions(t *testing.T) {
	var codec Codec

	auth := &Authentication{
		ClientID:      "c1",
		UserName:      "u1",
		Authenticated: true,
		Extensions: map[string]any{
			"tenant":   "acme",
			"attempts": 3,
		},
	}

	encoded, err := codec.Encode(auth)
	if err != nil {
		t.Fatalf("Encode() error = %v", err)
	}
	decoded, err := codec.Decode(encoded)
	if err != nil {
		t.Fatalf("Decode() error = %v", err)
	}
	if got := decoded.Extensions["tenant"]; got != "acme" {
		t.Errorf("Extensions[tenant] = %v, want acme", got)
	}
	if got := decoded.Extensions["attempts"]; got != 3 {
		t.Errorf("Extensions[attempts] = %v, want 3", got)
	}
}

func TestCodec_EncodeNil(t *testing.T) {
	var codec Codec
	if _, err := codec.Encode(nil); err == nil {
		t.Error("Encode(nil) should return an error")
	}
}

func TestCodec_DecodeCorrupt(t *testing.T) {
	var codec Codec

	tests := []struct {
		name  string
		input string
	}{
		{name: "empty payload", input: ""},
		{name: "not base64", input: "%%%not-base64%%%"},
		{name: "base64 of garbage", input: "bm90LWEtZ29iLXN0cmVhbQ=="},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := codec.Decode(tt.input)
			if !errors.Is(err, ErrCorruptAuthentication) {
				t.Errorf("Decode(%q) error = %v, want ErrCorruptAuthentication", tt.input, err)
			}
		})
	}
}
