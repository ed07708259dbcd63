package ir

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMarshalCanonicalScalars(t *testing.T) {
	tests := []struct {
		name     string
		input    Value
		expected string
	}{
		{"string", String("debit"), `"debit"`},
		{"empty string", String(""), `""`},
		{"int", Int(42), "42"},
		{"negative timestamp", Int(-86400), "-86400"},
		{"min int64", Int(math.MinInt64), "-9223372036854775808"},
		{"max uint64 amount", Uint(math.MaxUint64), "18446744073709551615"},
		{"zero amount", Uint(0), "0"},
		{"true", Bool(true), "true"},
		{"false", Bool(false), "false"},
		{"empty array", Array{}, "[]"},
		{"empty object", Object{}, "{}"},
		{"array", Array{Uint(1), String("two"), Bool(true)}, `[1,"two",true]`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(tt.input)
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalSortedKeys(t *testing.T) {
	obj := Object{
		"token_account":   String("A"),
		"debit_authority": String("B"),
		"variant": Object{
			"cycle":        Uint(2),
			"debit_amount": Uint(33),
		},
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t,
		`{"debit_authority":"B","token_account":"A","variant":{"cycle":2,"debit_amount":33}}`,
		string(result))
}

func TestMarshalCanonicalUTF16Ordering(t *testing.T) {
	// U+10000 encodes as the surrogate pair D800 DC00, which sorts before
	// U+E000 in UTF-16 even though its UTF-8 bytes sort after.
	obj := Object{
		"\uE000":     Int(1),
		"\U00010000": Int(2),
	}

	result, err := MarshalCanonical(obj)
	require.NoError(t, err)
	assert.Equal(t, "{\"\U00010000\":2,\"\uE000\":1}", string(result))
}

func TestMarshalCanonicalNoHTMLEscape(t *testing.T) {
	result, err := MarshalCanonical(String("<memo> a & b"))
	require.NoError(t, err)
	assert.Equal(t, `"<memo> a & b"`, string(result))
	assert.NotContains(t, string(result), `\u003c`)
	assert.NotContains(t, string(result), `\u0026`)
}

func TestMarshalCanonicalStringEscaping(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		expected string
	}{
		{"newline", "a\nb", `"a\nb"`},
		{"tab", "a\tb", `"a\tb"`},
		{"quote", `a"b`, `"a\"b"`},
		{"backslash", `a\b`, `"a\\b"`},
		{"control", "a\x01b", `"a\u0001b"`},
		{"unit separator", "a\x1fb", `"a\u001fb"`},
		{"line separator literal", "a\u2028b", "\"a\u2028b\""},
		{"literal backslash u2028 text", `\u2028`, `"\\u2028"`},
		{"invalid utf8", "a\xffb", "\"a\uFFFDb\""},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result, err := MarshalCanonical(String(tt.input))
			require.NoError(t, err)
			assert.Equal(t, tt.expected, string(result))
		})
	}
}

func TestMarshalCanonicalNFC(t *testing.T) {
	composed := "caf\u00e9"
	decomposed := "cafe\u0301"

	a, err := MarshalCanonical(String(composed))
	require.NoError(t, err)
	b, err := MarshalCanonical(String(decomposed))
	require.NoError(t, err)
	assert.Equal(t, a, b)

	a, err = MarshalCanonical(Object{composed: Int(1)})
	require.NoError(t, err)
	b, err = MarshalCanonical(Object{decomposed: Int(1)})
	require.NoError(t, err)
	assert.Equal(t, a, b, "object keys are normalised too")
}

func TestMarshalCanonicalRejectsNil(t *testing.T) {
	_, err := MarshalCanonical(nil)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "null")

	_, err = MarshalCanonical(Object{"memo": nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"memo"`)

	_, err = MarshalCanonical(Array{Int(1), nil})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "array[1]")
}

func TestMarshalCanonicalIdempotent(t *testing.T) {
	obj := NewObject(
		O("amount", Uint(100)),
		O("memo", String("rent march")),
		O("signers", Array{String("x"), String("y")}),
	)

	first := mustMarshalCanonical(obj)
	for i := 0; i < 20; i++ {
		assert.Equal(t, first, mustMarshalCanonical(obj))
	}
}

func TestObjectWith(t *testing.T) {
	base := NewObject(O("a", Int(1)))
	ext := base.With(O("b", Int(2)), O("a", Int(3)))

	assert.Equal(t, Object{"a": Int(1)}, base, "base is not mutated")
	assert.Equal(t, Object{"a": Int(3), "b": Int(2)}, ext)
	assert.Equal(t, []string{"a", "b"}, ext.SortedKeys())
}
