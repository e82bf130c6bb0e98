package normalizer

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"merchant-sync/internal/apperr"
	"merchant-sync/internal/model"
)

const header = "id;reference;email;live_on;disbursement_frequency;minimum_monthly_fee\n"

const acmeID = "2ae89f6d-e210-4993-b4d1-0bd2d279da62"

func TestParseRow(t *testing.T) {
	m, err := ParseRow([]string{acmeID, "acme", "billing@acme.com", "2024-01-01", "DAILY", "12.50"})
	require.NoError(t, err)

	assert.Equal(t, uuid.MustParse(acmeID), m.ID)
	assert.Equal(t, "acme", m.Reference)
	assert.Equal(t, "billing@acme.com", m.Email)
	assert.Equal(t, time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC), m.LiveOn)
	assert.Equal(t, model.Daily, m.Frequency)
	assert.Equal(t, int64(1250), m.MinimumMonthlyFee)
}

func TestParseRowFrequencyIsCaseInsensitive(t *testing.T) {
	m, err := ParseRow([]string{acmeID, "acme", "", "2024-01-01", "weekly", "0"})
	require.NoError(t, err)
	assert.Equal(t, model.Weekly, m.Frequency)
}

func TestParseRowRejects(t *testing.T) {
	valid := []string{acmeID, "acme", "billing@acme.com", "2024-01-01", "DAILY", "12.50"}

	tests := []struct {
		name  string
		col   int
		value string
		field string
	}{
		{"id not a uuid", colID, "u1", "id"},
		{"empty reference", colReference, "  ", "merchant_reference"},
		{"date with slashes", colLiveOn, "2024/01/01", "live_on"},
		{"impossible date", colLiveOn, "2024-02-30", "live_on"},
		{"monthly cadence", colFrequency, "MONTHLY", "disbursement_frequency"},
		{"empty cadence", colFrequency, "", "disbursement_frequency"},
		{"fee not a number", colFee, "twelve", "minimum_monthly_fee"},
		{"fee with comma", colFee, "12,50", "minimum_monthly_fee"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			row := append([]string(nil), valid...)
			row[tt.col] = tt.value

			_, err := ParseRow(row)
			require.Error(t, err)

			var verr *apperr.ValidationError
			require.ErrorAs(t, err, &verr)
			assert.Equal(t, tt.field, verr.Field)
		})
	}
}

func TestParseRowWrongFieldCount(t *testing.T) {
	_, err := ParseRow([]string{acmeID, "acme", "x@y.z", "2024-01-01", "DAILY"})
	assert.True(t, apperr.IsValidation(err))
}

func TestReadAllDoesNotEchoMalformedRows(t *testing.T) {
	input := "# header\nDB_PASSWORD=hunter2\n"

	_, err := ReadAll(strings.NewReader(input))

	var verr *apperr.ValidationError
	require.ErrorAs(t, err, &verr)
	assert.Equal(t, "row", verr.Field)
	assert.Equal(t, 2, verr.Line)
	assert.Empty(t, verr.Value)
	assert.NotContains(t, err.Error(), "hunter2")
	assert.Equal(t, "line 2: invalid row: expected 6 fields, got 1", err.Error())
}

func TestToCentsRoundsHalfAwayFromZero(t *testing.T) {
	tests := []struct {
		in   string
		want int64
	}{
		{"12.50", 1250},
		{"0.00", 0},
		{"0", 0},
		{"0.004", 0},
		{"0.005", 1},
		{"0.015", 2},
		{"0.025", 3},
		{"1.005", 101},
		{"2.675", 268},
		{"-0.005", -1},
		{" 29.99 ", 2999},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := ToCents(tt.in)
			require.NoError(t, err)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestToCentsOutOfRange(t *testing.T) {
	_, err := ToCents("999999999999999999999999")
	assert.Error(t, err)
}

func TestReadAll(t *testing.T) {
	input := header +
		acmeID + ";acme;billing@acme.com;2024-01-01;DAILY;12.50\n" +
		"86312006-4d7e-45c4-9c28-788f4aa68a62;padberg_group;info@padberg-group.com;2023-02-01;weekly;0.0\n"

	merchants, err := ReadAll(strings.NewReader(input))
	require.NoError(t, err)
	require.Len(t, merchants, 2)

	assert.Equal(t, "acme", merchants[0].Reference)
	assert.Equal(t, "padberg_group", merchants[1].Reference)
	assert.Equal(t, model.Weekly, merchants[1].Frequency)
	assert.Equal(t, int64(0), merchants[1].MinimumMonthlyFee)
}

func TestReadAllEmptyBatch(t *testing.T) {
	merchants, err := ReadAll(strings.NewReader(header))
	require.NoError(t, err)
	assert.Empty(t, merchants)

	merchants, err = ReadAll(strings.NewReader(""))
	require.NoError(t, err)
	assert.Empty(t, merchants)
}

func TestReadAllStopsAtFirstBadRow(t *testing.T) {
	input := header +
		acmeID + ";acme;billing@acme.com;2024-01-01;DAILY;12.50\n" +
		"86312006-4d7e-45c4-9c28-788f4aa68a62;padberg_group;info@padberg-group.com;2023-02-01;MONTHLY;1\n" +
		"not-even-a-uuid;later;x@y.z;2023-02-01;DAILY;1\n"

	merchants, err := ReadAll(strings.NewReader(input))
	require.Error(t, err)
	assert.Nil(t, merchants)
	assert.True(t, apperr.IsValidation(err))
	assert.Contains(t, err.Error(), "line 3")
	assert.Contains(t, err.Error(), "disbursement_frequency")
}

func TestReadAllCommaDelimitedFileIsRejected(t *testing.T) {
	input := "id,reference,email,live_on,disbursement_frequency,minimum_monthly_fee\n" +
		acmeID + ",acme,billing@acme.com,2024-01-01,DAILY,12.50\n"

	_, err := ReadAll(strings.NewReader(input))
	assert.True(t, apperr.IsValidation(err))
}

func TestReadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "merchants.csv")
	require.NoError(t, os.WriteFile(path, []byte(header+acmeID+";acme;a@b.c;2024-01-01;DAILY;1\n"), 0o600))

	merchants, err := ReadFile(path)
	require.NoError(t, err)
	assert.Len(t, merchants, 1)

	_, err = ReadFile(filepath.Join(t.TempDir(), "missing.csv"))
	require.Error(t, err)
	assert.False(t, apperr.IsValidation(err))
}
