package main

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-sync/internal/normalizer"
)

func TestGeneratedBatchNormalizes(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, writeBatch(&buf, 25, rand.New(rand.NewSource(1))))

	merchants, err := normalizer.ReadAll(&buf)
	require.NoError(t, err)
	require.Len(t, merchants, 25)

	assert.Equal(t, "merchant_000000", merchants[0].Reference)
	for _, m := range merchants {
		assert.True(t, m.Frequency.Valid())
		assert.GreaterOrEqual(t, m.MinimumMonthlyFee, int64(0))
		assert.Less(t, m.MinimumMonthlyFee, int64(10000))
	}
}
