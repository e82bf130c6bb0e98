// Package normalizer turns rows of the merchant batch file into validated
// merchant records.
//
// The batch file is semicolon separated with a header row:
//
//	id;reference;email;live_on;disbursement_frequency;minimum_monthly_fee
//
// Fees are given in major currency units and stored in cents.
package normalizer

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"

	"merchant-sync/internal/apperr"
	"merchant-sync/internal/model"
)

const (
	Delimiter = ';'
	numFields = 6
)

const (
	colID = iota
	colReference
	colEmail
	colLiveOn
	colFrequency
	colFee
)

var hundred = decimal.NewFromInt(100)

// ParseRow validates one row and builds a Merchant from it.
func ParseRow(fields []string) (model.Merchant, error) {
	if len(fields) != numFields {
		return model.Merchant{}, apperr.Validation("row", "",
			fmt.Errorf("expected %d fields, got %d", numFields, len(fields)))
	}

	id, err := uuid.Parse(strings.TrimSpace(fields[colID]))
	if err != nil {
		return model.Merchant{}, apperr.Validation("id", fields[colID], err)
	}

	reference := strings.TrimSpace(fields[colReference])
	if reference == "" {
		return model.Merchant{}, apperr.Validation("merchant_reference", "", errors.New("must not be empty"))
	}

	liveOn, err := time.Parse(model.DateLayout, strings.TrimSpace(fields[colLiveOn]))
	if err != nil {
		return model.Merchant{}, apperr.Validation("live_on", fields[colLiveOn], err)
	}

	frequency, err := model.ParseFrequency(fields[colFrequency])
	if err != nil {
		return model.Merchant{}, apperr.Validation("disbursement_frequency", fields[colFrequency], err)
	}

	fee, err := ToCents(fields[colFee])
	if err != nil {
		return model.Merchant{}, apperr.Validation("minimum_monthly_fee", fields[colFee], err)
	}

	return model.Merchant{
		ID:                id,
		Reference:         reference,
		Email:             strings.TrimSpace(fields[colEmail]),
		LiveOn:            liveOn,
		Frequency:         frequency,
		MinimumMonthlyFee: fee,
	}, nil
}

// ToCents converts a decimal amount in major units to minor units, rounding
// half away from zero: 0.005 -> 1, 0.015 -> 2, -0.005 -> -1.
func ToCents(amount string) (int64, error) {
	d, err := decimal.NewFromString(strings.TrimSpace(amount))
	if err != nil {
		return 0, err
	}

	cents := d.Mul(hundred).Round(0)
	if !cents.BigInt().IsInt64() {
		return 0, fmt.Errorf("amount %s out of range", amount)
	}
	return cents.IntPart(), nil
}

// ReadAll parses every data row of r. It stops at the first invalid row and
// returns that error annotated with its line number; nothing is returned for
// the rows read before it.
func ReadAll(r io.Reader) ([]model.Merchant, error) {
	reader := csv.NewReader(r)
	reader.Comma = Delimiter
	reader.FieldsPerRecord = -1

	if _, err := reader.Read(); err != nil {
		if errors.Is(err, io.EOF) {
			return []model.Merchant{}, nil
		}
		return nil, apperr.Validation("header", "", err)
	}

	merchants := []model.Merchant{}
	for {
		record, err := reader.Read()
		if errors.Is(err, io.EOF) {
			return merchants, nil
		}
		if err != nil {
			return nil, apperr.Validation("row", "", err)
		}

		merchant, err := ParseRow(record)
		if err != nil {
			line, _ := reader.FieldPos(0)
			var verr *apperr.ValidationError
			if errors.As(err, &verr) {
				verr.Line = line
				return nil, verr
			}
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		merchants = append(merchants, merchant)
	}
}

// ReadFile opens path and parses it with ReadAll.
func ReadFile(path string) ([]model.Merchant, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open batch file: %w", err)
	}
	defer f.Close()

	return ReadAll(f)
}
