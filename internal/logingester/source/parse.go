package source

import (
	"math"
	"time"

	"github.com/pkg/errors"
	"github.com/valyala/fastjson"

	"github.com/G-Research/logingester/pkg/logwriter"
)

// ParseRecord parses one JSON log line. Both the flat form
//
//	{"timestamp": "...", "service": "...", "level": "...", "host": "...", "pid": 1, "message": "...", "details": {}}
//
// and the stored form, with service, level, hostname and pid grouped under "meta", are accepted.
// timestamp may be an RFC 3339 string or a number of seconds since the epoch.
func ParseRecord(p *fastjson.Parser, line []byte, defaultService string) (logwriter.LogRecord, error) {
	v, err := p.ParseBytes(line)
	if err != nil {
		return logwriter.LogRecord{}, errors.WithMessage(err, "invalid json")
	}
	if v.Type() != fastjson.TypeObject {
		return logwriter.LogRecord{}, errors.Errorf("expected a json object, got %s", v.Type())
	}

	fields := v
	if meta := v.Get("meta"); meta != nil && meta.Type() == fastjson.TypeObject {
		fields = meta
	}

	record := logwriter.LogRecord{
		Service: string(fields.GetStringBytes("service")),
		Host:    string(fields.GetStringBytes("hostname")),
		Pid:     fields.GetInt("pid"),
		Message: string(v.GetStringBytes("message")),
	}
	if record.Host == "" {
		record.Host = string(fields.GetStringBytes("host"))
	}
	if record.Service == "" {
		record.Service = defaultService
	}
	if record.Service == "" {
		return logwriter.LogRecord{}, errors.New("record has no service")
	}

	record.Level, err = logwriter.ParseLevel(string(fields.GetStringBytes("level")))
	if err != nil {
		return logwriter.LogRecord{}, err
	}

	record.Timestamp, err = parseTimestamp(v.Get("timestamp"))
	if err != nil {
		return logwriter.LogRecord{}, err
	}

	if details := v.Get("details"); details != nil && details.Type() == fastjson.TypeObject {
		record.Details = toInterface(details).(map[string]interface{})
	}
	return record, nil
}

func parseTimestamp(v *fastjson.Value) (time.Time, error) {
	if v == nil || v.Type() == fastjson.TypeNull {
		return time.Time{}, nil
	}
	switch v.Type() {
	case fastjson.TypeString:
		t, err := time.Parse(time.RFC3339Nano, string(v.GetStringBytes()))
		if err != nil {
			return time.Time{}, errors.WithMessage(err, "invalid timestamp")
		}
		return t.UTC(), nil
	case fastjson.TypeNumber:
		seconds, frac := math.Modf(v.GetFloat64())
		return time.Unix(int64(seconds), int64(frac*float64(time.Second))).UTC(), nil
	}
	return time.Time{}, errors.Errorf("invalid timestamp of type %s", v.Type())
}

// toInterface converts v into the values encoding/json would produce, except that integral numbers
// become int64.
func toInterface(v *fastjson.Value) interface{} {
	switch v.Type() {
	case fastjson.TypeObject:
		result := map[string]interface{}{}
		v.GetObject().Visit(func(key []byte, value *fastjson.Value) {
			result[string(key)] = toInterface(value)
		})
		return result
	case fastjson.TypeArray:
		values := v.GetArray()
		result := make([]interface{}, len(values))
		for i, value := range values {
			result[i] = toInterface(value)
		}
		return result
	case fastjson.TypeString:
		return string(v.GetStringBytes())
	case fastjson.TypeNumber:
		if i, err := v.Int64(); err == nil {
			return i
		}
		return v.GetFloat64()
	case fastjson.TypeTrue:
		return true
	case fastjson.TypeFalse:
		return false
	}
	return nil
}
