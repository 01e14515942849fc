package rawvalue

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
)

func Test_RawValue(t *testing.T) {
	t.Run("Should report absent values", func(t *testing.T) {
		assert.False(t, FromJSON(json.RawMessage("null")).HasValue())
		assert.False(t, FromJSON(json.RawMessage("")).HasValue())
		assert.True(t, FromJSON(json.RawMessage(`"0"`)).HasValue())
		assert.True(t, FromJSON(json.RawMessage(`{}`)).HasValue())
	})

	t.Run("Should unquote JSON strings", func(t *testing.T) {
		s, err := FromJSON(json.RawMessage(`"hello"`)).AsString()
		assert.Nil(t, err)
		assert.Equal(t, "hello", s)
	})

	t.Run("Should return non-string payloads verbatim", func(t *testing.T) {
		s, err := FromJSON(json.RawMessage(`{"a":1}`)).AsString()
		assert.Nil(t, err)
		assert.Equal(t, `{"a":1}`, s)
	})

	t.Run("Should normalize decimal shapes", func(t *testing.T) {
		cases := []struct {
			raw      string
			expected string
		}{
			{`123456`, "123456"},
			{`"123456"`, "123456"},
			{`"3,000,000"`, "3000000"},
			{`"0x1a"`, "26"},
			{`"0X1A"`, "26"},
			{`"0"`, "0"},
		}
		for _, c := range cases {
			got, err := FromJSON(json.RawMessage(c.raw)).AsDecimalString()
			assert.Nil(t, err)
			assert.Equal(t, c.expected, got)
		}
	})

	t.Run("Should reject non-numeric payloads", func(t *testing.T) {
		_, err := FromJSON(json.RawMessage(`"not a number"`)).AsDecimalString()
		assert.NotNil(t, err)

		_, err = FromJSON(json.RawMessage(`"0xzz"`)).AsDecimalString()
		assert.NotNil(t, err)

		_, err = FromJSON(json.RawMessage("null")).AsDecimalString()
		assert.NotNil(t, err)
	})

	t.Run("Should probe both field spellings", func(t *testing.T) {
		camel := FromJSON(json.RawMessage(`{"currentEpochIndex": 7}`))
		snake := FromJSON(json.RawMessage(`{"current_epoch_index": 7}`))

		for _, v := range []Value{camel, snake} {
			f, ok := v.Field("currentEpochIndex", "current_epoch_index")
			assert.True(t, ok)
			s, err := f.AsDecimalString()
			assert.Nil(t, err)
			assert.Equal(t, "7", s)
		}
	})

	t.Run("Should treat null fields as absent", func(t *testing.T) {
		v := FromJSON(json.RawMessage(`{"currentEpochRewards": null}`))
		_, ok := v.Field("currentEpochRewards", "current_epoch_rewards")
		assert.False(t, ok)
	})

	t.Run("Should expose structured values field by field", func(t *testing.T) {
		v := FromJSON(json.RawMessage(`{"a": 1, "b": "two"}`))
		fields, err := v.AsStructured()
		assert.Nil(t, err)
		assert.Equal(t, 2, len(fields))

		_, err = FromJSON(json.RawMessage(`[1,2]`)).AsStructured()
		assert.NotNil(t, err)
	})
}
