package api

import (
	"encoding/json"
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"stardust/pkg/contracts/domain"
)

func TestSubmitRequestToDomain(t *testing.T) {
	t.Run("numeric strings and defaults", func(t *testing.T) {
		var sr SubmitRequest
		require.NoError(t, json.Unmarshal([]byte(`{"opCode":1,"opQuery":"nlp","maxResults":"75","starsHistory":true}`), &sr))

		req, err := sr.ToDomain(250, 200)
		require.NoError(t, err)
		assert.Equal(t, domain.OpCodeQuery, req.OpCode)
		assert.Equal(t, "nlp", req.OpQuery)
		assert.Equal(t, 75, req.MaxResults)
		assert.Equal(t, 200, req.LimitStarsPerUser)
		assert.True(t, req.StarsHistory)
	})

	t.Run("fractional number truncates", func(t *testing.T) {
		var sr SubmitRequest
		require.NoError(t, json.Unmarshal([]byte(`{"opCode":0,"opQuery":"a/b","limitStarsPerUser":12.9}`), &sr))
		req, err := sr.ToDomain(250, 200)
		require.NoError(t, err)
		assert.Equal(t, 12, req.LimitStarsPerUser)
	})

	t.Run("missing opCode", func(t *testing.T) {
		var sr SubmitRequest
		require.NoError(t, json.Unmarshal([]byte(`{"opQuery":"a/b"}`), &sr))
		_, err := sr.ToDomain(250, 200)
		assert.ErrorIs(t, err, ErrMissingField)
	})

	t.Run("missing opQuery", func(t *testing.T) {
		var sr SubmitRequest
		require.NoError(t, json.Unmarshal([]byte(`{"opCode":0}`), &sr))
		_, err := sr.ToDomain(250, 200)
		assert.ErrorIs(t, err, ErrMissingField)
	})

	t.Run("string opCode is rejected", func(t *testing.T) {
		var sr SubmitRequest
		assert.Error(t, json.Unmarshal([]byte(`{"opCode":"1","opQuery":"a/b"}`), &sr))
	})

	t.Run("garbage limit is rejected", func(t *testing.T) {
		var sr SubmitRequest
		assert.Error(t, json.Unmarshal([]byte(`{"opCode":0,"opQuery":"a/b","maxResults":"lots"}`), &sr))
	})

	t.Run("non finite limit is rejected", func(t *testing.T) {
		for _, body := range []string{
			`{"opCode":0,"opQuery":"a/b","maxResults":"NaN"}`,
			`{"opCode":0,"opQuery":"a/b","maxResults":"Infinity"}`,
			`{"opCode":0,"opQuery":"a/b","maxResults":"-Inf"}`,
		} {
			var sr SubmitRequest
			assert.Error(t, json.Unmarshal([]byte(body), &sr), body)
		}
	})
}

func TestFlexIntSaturates(t *testing.T) {
	tests := []struct {
		name string
		body string
		want int
	}{
		{name: "huge number", body: `1e20`, want: math.MaxInt32},
		{name: "huge string", body: `"99999999999999999999"`, want: math.MaxInt32},
		{name: "beyond float range", body: `"1e400"`, want: math.MaxInt32},
		{name: "huge negative", body: `-1e20`, want: math.MinInt32},
		{name: "ordinary", body: `"42"`, want: 42},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var f FlexInt
			require.NoError(t, json.Unmarshal([]byte(tt.body), &f))
			assert.Equal(t, tt.want, int(f))
		})
	}
}
