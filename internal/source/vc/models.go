package vc

import (
	"bytes"
	"encoding/json"
	"math"
	"strconv"
	"strings"
)

// contentResponse is the envelope of the /content endpoint in API v2.1 and
// v2.10.
type contentResponse struct {
	Result *contentResult `json:"result"`
}

type contentResult struct {
	ID        optionalCount `json:"id"`
	Title     optionalText  `json:"title"`
	Date      optionalCount `json:"date"`
	URL       optionalText  `json:"url"`
	Counters  *counters     `json:"counters"`
	HitsCount optionalCount `json:"hitsCount"`
}

type counters struct {
	Views optionalCount `json:"views"`
	Hits  optionalCount `json:"hits"`
}

// UnmarshalJSON leaves both counters absent when the field is not an object.
func (c *counters) UnmarshalJSON(data []byte) error {
	type plain counters
	var v plain
	if err := json.Unmarshal(data, &v); err != nil {
		*c = counters{}
		return nil
	}
	*c = counters(v)
	return nil
}

// optionalText decodes a string field that may drift to another JSON type.
// Numbers keep their literal form, anything else becomes empty.
type optionalText string

func (t *optionalText) UnmarshalJSON(data []byte) error {
	*t = ""

	data = bytes.TrimSpace(data)
	if len(data) == 0 {
		return nil
	}

	switch {
	case data[0] == '"':
		var s string
		if err := json.Unmarshal(data, &s); err == nil {
			*t = optionalText(s)
		}
	case data[0] == '-' || (data[0] >= '0' && data[0] <= '9'):
		*t = optionalText(data)
	}
	return nil
}

// optionalCount decodes a counter that may be missing, null, a number or a
// numeric string. Anything else is treated as absent rather than an error so
// one odd field does not discard the whole payload.
type optionalCount struct {
	value *int64
}

func (c *optionalCount) UnmarshalJSON(data []byte) error {
	c.value = nil

	data = bytes.TrimSpace(data)
	if len(data) == 0 || bytes.Equal(data, []byte("null")) {
		return nil
	}

	raw := string(data)
	if data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return nil
		}
		raw = strings.TrimSpace(s)
	}

	if n, err := strconv.ParseInt(raw, 10, 64); err == nil {
		if n >= 0 {
			c.value = &n
		}
		return nil
	}

	f, err := strconv.ParseFloat(raw, 64)
	if err != nil || math.IsNaN(f) || math.IsInf(f, 0) || f < 0 || f != math.Trunc(f) || f > math.MaxInt64 {
		return nil
	}
	n := int64(f)
	c.value = &n
	return nil
}

func (c optionalCount) Ptr() *int64 {
	return c.value
}
