// Package api contains the wire shapes accepted from websocket and HTTP
// clients before they are turned into domain values.
package api

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strconv"
	"strings"

	"stardust/pkg/contracts/domain"
)

// ErrMissingField is returned when a required submit field is absent.
var ErrMissingField = errors.New("missing required field")

// FlexInt decodes from a JSON number or a numeric string. Fractions are
// truncated toward zero and values beyond the int32 range saturate.
type FlexInt int

// UnmarshalJSON implements json.Unmarshaler.
func (f *FlexInt) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		data = []byte(strings.TrimSpace(s))
	}
	n, err := strconv.ParseFloat(string(data), 64)
	if err != nil && !errors.Is(err, strconv.ErrRange) {
		return fmt.Errorf("not a number: %s", data)
	}
	if math.IsNaN(n) || (math.IsInf(n, 0) && err == nil) {
		return fmt.Errorf("not a finite number: %s", data)
	}
	*f = FlexInt(int(max(min(n, math.MaxInt32), math.MinInt32)))
	return nil
}

// SubmitRequest is the submit payload as clients send it. OpCode must be a
// JSON number; the numeric limits may also arrive as strings.
type SubmitRequest struct {
	OpCode            *int                   `json:"opCode"`
	OpQuery           *string                `json:"opQuery"`
	MaxResults        *FlexInt               `json:"maxResults"`
	LimitStarsPerUser *FlexInt               `json:"limitStarsPerUser"`
	IncreaseSNR       bool                   `json:"increaseSNR"`
	StarsHistory      bool                   `json:"starsHistory"`
	Admin             *domain.AdminDirective `json:"admin,omitempty"`
}

// ToDomain fills defaults for the optional limits and returns the domain
// request. Range checks and clamping happen at admission.
func (r SubmitRequest) ToDomain(defaultMaxResults, defaultLimitStarsPerUser int) (domain.Request, error) {
	if r.OpCode == nil {
		return domain.Request{}, fmt.Errorf("opCode: %w", ErrMissingField)
	}
	if r.OpQuery == nil {
		return domain.Request{}, fmt.Errorf("opQuery: %w", ErrMissingField)
	}

	req := domain.Request{
		OpCode:            domain.OpCode(*r.OpCode),
		OpQuery:           *r.OpQuery,
		MaxResults:        defaultMaxResults,
		LimitStarsPerUser: defaultLimitStarsPerUser,
		IncreaseSNR:       r.IncreaseSNR,
		StarsHistory:      r.StarsHistory,
		Admin:             r.Admin,
	}
	if r.MaxResults != nil {
		req.MaxResults = int(*r.MaxResults)
	}
	if r.LimitStarsPerUser != nil {
		req.LimitStarsPerUser = int(*r.LimitStarsPerUser)
	}
	return req, nil
}
