package handler

import (
	"io"
	"net/http"
	"time"

	"github.com/go-faster/errors"
	"github.com/go-faster/jx"
	"github.com/shopspring/decimal"
)

const maxBodyBytes = 1 << 20

// errBadAmount marks a money field that is not a number.
var errBadAmount = errors.New("amount must be a number")

func writeJSON(w http.ResponseWriter, status int, fn func(e *jx.Encoder)) {
	var e jx.Encoder
	fn(&e)

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(e.Bytes())
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, func(e *jx.Encoder) {
		e.Obj(func(e *jx.Encoder) {
			e.Field("error", func(e *jx.Encoder) { e.Str(msg) })
		})
	})
}

// decodeObject reads the request body as a JSON object and calls fn for each
// field.
func decodeObject(r *http.Request, fn func(d *jx.Decoder, key string) error) error {
	data, err := io.ReadAll(io.LimitReader(r.Body, maxBodyBytes))
	if err != nil {
		return errors.Wrap(err, "read body")
	}
	if len(data) == 0 {
		return errors.New("empty request body")
	}
	d := jx.DecodeBytes(data)
	if err := d.Obj(fn); err != nil {
		return err
	}
	return nil
}

// decodeDecimal accepts a JSON number or a numeric string.
func decodeDecimal(d *jx.Decoder) (decimal.Decimal, error) {
	var raw string
	switch d.Next() {
	case jx.String:
		s, err := d.Str()
		if err != nil {
			return decimal.Zero, err
		}
		raw = s
	case jx.Number:
		n, err := d.Num()
		if err != nil {
			return decimal.Zero, err
		}
		raw = n.String()
	default:
		if err := d.Skip(); err != nil {
			return decimal.Zero, err
		}
		return decimal.Zero, errBadAmount
	}

	v, err := decimal.NewFromString(raw)
	if err != nil {
		return decimal.Zero, errBadAmount
	}
	return v, nil
}

// decodeOptInt64 decodes a nullable integer.
func decodeOptInt64(d *jx.Decoder) (*int64, error) {
	if d.Next() == jx.Null {
		return nil, d.Null()
	}
	v, err := d.Int64()
	if err != nil {
		return nil, err
	}
	return &v, nil
}

// decodeOptString decodes a nullable string, mapping null to "".
func decodeOptString(d *jx.Decoder) (string, error) {
	if d.Next() == jx.Null {
		return "", d.Null()
	}
	return d.Str()
}

func decodeOptTime(d *jx.Decoder) (*time.Time, error) {
	s, err := decodeOptString(d)
	if err != nil || s == "" {
		return nil, err
	}
	t, err := time.Parse(time.RFC3339, s)
	if err != nil {
		return nil, errors.Wrapf(err, "parse time %q", s)
	}
	return &t, nil
}

func encodeMoney(e *jx.Encoder, v decimal.Decimal) {
	e.Str(v.StringFixed(2))
}

func encodeOptTime(e *jx.Encoder, t *time.Time) {
	if t == nil {
		e.Null()
		return
	}
	e.Str(t.UTC().Format(time.RFC3339))
}

func encodeTime(e *jx.Encoder, t time.Time) {
	e.Str(t.UTC().Format(time.RFC3339))
}
