package messaging

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNormalize(t *testing.T) {
	tests := []struct {
		name string
		in   string
		want string
	}{
		{
			name: "clean payload untouched",
			in:   `{"tenant_id":"T1","csd_cer":"TUlJRkR6Q0NB"}`,
			want: `{"tenant_id":"T1","csd_cer":"TUlJRkR6Q0NB"}`,
		},
		{
			name: "wrapped base64 joined",
			in:   "{\"csd_cer\":\"TUlJRkR6\nQ0NBL3Vn\r\nQXdJQkFn==\"}",
			want: `{"csd_cer":"TUlJRkR6Q0NBL3VnQXdJQkFn=="}`,
		},
		{
			name: "newlines between fields kept",
			in:   "{\n  \"rfc\": \"ABC010101AAA\",\n  \"business_name\": \"Acme\"\n}",
			want: "{\n  \"rfc\": \"ABC010101AAA\",\n  \"business_name\": \"Acme\"\n}",
		},
		{
			name: "prose with newline left alone",
			in:   "{\"notes\":\"line one, then\nline two\"}",
			want: "{\"notes\":\"line one, then\nline two\"}",
		},
		{
			name: "escaped quote does not end literal",
			in:   "{\"a\":\"x\\\"y\",\"k\":\"AB\nCD\"}",
			want: `{"a":"x\"y","k":"ABCD"}`,
		},
		{
			name: "unterminated literal copied",
			in:   "{\"k\":\"AB\nCD",
			want: "{\"k\":\"AB\nCD",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, string(Normalize([]byte(tt.in))))
		})
	}
}

func TestNormalize_MakesCertificatePayloadDecodable(t *testing.T) {
	raw := "{\"tenant_id\":\"T1\",\"certificates\":{\"csd_key\":\"MIIFDjBABgkqhkiG9w0BBQ0w\nMzAbBgkqhkiG9w0BBQwwDgQI\"}}"
	require.False(t, json.Valid([]byte(raw)))

	var out struct {
		Certificates struct {
			CSDKey string `json:"csd_key"`
		} `json:"certificates"`
	}
	require.NoError(t, json.Unmarshal(Normalize([]byte(raw)), &out))
	assert.Equal(t, "MIIFDjBABgkqhkiG9w0BBQ0wMzAbBgkqhkiG9w0BBQwwDgQI", out.Certificates.CSDKey)
}
