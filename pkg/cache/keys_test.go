package cache

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestKeyInsensitiveToFieldOrder(t *testing.T) {
	var a, b map[string]interface{}
	require.NoError(t, json.Unmarshal([]byte(`{"query":"boulangerie","page":2,"filters":{"postal_code":"75001","activity_code":"10.71C"}}`), &a))
	require.NoError(t, json.Unmarshal([]byte(`{"filters":{"activity_code":"10.71C","postal_code":"75001"},"page":2,"query":"boulangerie"}`), &b))

	keyA, err := Key(NSSearch, a)
	require.NoError(t, err)
	keyB, err := Key(NSSearch, b)
	require.NoError(t, err)

	assert.Equal(t, keyA, keyB)
}

func TestKeyFormat(t *testing.T) {
	key, err := Key(NSProfile, map[string]string{"business_key": "552100554"})
	require.NoError(t, err)

	// "<ns>:" prefix followed by a 32-char hex digest.
	require.Len(t, key, len(NSProfile)+1+32)
	assert.Equal(t, NSProfile+":", key[:len(NSProfile)+1])
	for _, c := range key[len(NSProfile)+1:] {
		assert.Contains(t, "0123456789abcdef", string(c))
	}
}

func TestKeyDistinguishesInputs(t *testing.T) {
	keyA, err := Key(NSSearch, map[string]string{"query": "boulangerie"})
	require.NoError(t, err)
	keyB, err := Key(NSSearch, map[string]string{"query": "patisserie"})
	require.NoError(t, err)

	assert.NotEqual(t, keyA, keyB)
}

func TestCanonicalJSONIdempotent(t *testing.T) {
	input := map[string]interface{}{
		"z": 1,
		"a": []interface{}{"x", "y"},
		"m": map[string]interface{}{"k2": true, "k1": nil},
	}

	first, err := CanonicalJSON(input)
	require.NoError(t, err)

	var roundTrip interface{}
	require.NoError(t, json.Unmarshal(first, &roundTrip))
	second, err := CanonicalJSON(roundTrip)
	require.NoError(t, err)

	assert.Equal(t, first, second)
}

func TestNamespace(t *testing.T) {
	tests := []struct {
		key  string
		want string
	}{
		{"search:9f86d081884c7d65", "search"},
		{"profile:552100554:9f86d081", "profile"},
		{"rl:sirene:default", "rl"},
		{"bare", "bare"},
		{"", ""},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, Namespace(tt.key), "key %q", tt.key)
	}
}
