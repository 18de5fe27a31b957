package odm

import (
	"encoding/json"
	"fmt"
	"math"
	"reflect"
	"strconv"
	"time"
)

var timeType = reflect.TypeOf(time.Time{})

// tagConverter backs the identifier and tag types. Tags are always strings
// on the wire; FromWire parses them back into numeric or boolean fields.
type tagConverter struct{}

func (tagConverter) ToWire(v any) (any, error) {
	return asString(v)
}

func (tagConverter) FromWire(w any, target reflect.Type) (any, error) {
	s, err := asString(w)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return s, nil
	}
	switch target.Kind() {
	case reflect.String:
		return reflect.ValueOf(s).Convert(target).Interface(), nil
	case reflect.Interface:
		return s, nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		i, err := strconv.ParseInt(s, 10, 64)
		if err != nil {
			return nil, err
		}
		return convertInt(i, target)
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u, err := strconv.ParseUint(s, 10, 64)
		if err != nil {
			return nil, err
		}
		if reflect.New(target).Elem().OverflowUint(u) {
			return nil, fmt.Errorf("integer %d overflows %s", u, target)
		}
		return reflect.ValueOf(u).Convert(target).Interface(), nil
	case reflect.Float32, reflect.Float64:
		f, err := strconv.ParseFloat(s, 64)
		if err != nil {
			return nil, err
		}
		return convertFloat(f, target)
	case reflect.Bool:
		b, err := strconv.ParseBool(s)
		if err != nil {
			return nil, err
		}
		return reflect.ValueOf(b).Convert(target).Interface(), nil
	}
	return nil, fmt.Errorf("cannot hydrate tag into %s", target)
}

type stringConverter struct{}

func (stringConverter) ToWire(v any) (any, error) {
	return asString(v)
}

func (stringConverter) FromWire(w any, target reflect.Type) (any, error) {
	s, err := asString(w)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return s, nil
	}
	switch target.Kind() {
	case reflect.String:
		return reflect.ValueOf(s).Convert(target).Interface(), nil
	case reflect.Interface:
		return s, nil
	case reflect.Slice:
		if target.Elem().Kind() == reflect.Uint8 {
			return reflect.ValueOf([]byte(s)).Convert(target).Interface(), nil
		}
	}
	return nil, fmt.Errorf("cannot hydrate string into %s", target)
}

// integerConverter writes int64, or uint64 for unsigned values above
// math.MaxInt64.
type integerConverter struct{}

func (integerConverter) ToWire(v any) (any, error) {
	if u, ok := largeUint(v); ok {
		return u, nil
	}
	return asInt64(v)
}

func (integerConverter) FromWire(w any, target reflect.Type) (any, error) {
	if u, ok := largeUint(w); ok {
		if target == nil || target.Kind() == reflect.Interface {
			return u, nil
		}
		switch target.Kind() {
		case reflect.Uint, reflect.Uint64, reflect.Uintptr:
			if !reflect.New(target).Elem().OverflowUint(u) {
				return reflect.ValueOf(u).Convert(target).Interface(), nil
			}
		case reflect.Float32, reflect.Float64:
			return reflect.ValueOf(float64(u)).Convert(target).Interface(), nil
		}
		return nil, fmt.Errorf("integer %d overflows %s", u, target)
	}
	i, err := asInt64(w)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return i, nil
	}
	return convertInt(i, target)
}

type floatConverter struct{}

func (floatConverter) ToWire(v any) (any, error) {
	return asFloat64(v)
}

func (floatConverter) FromWire(w any, target reflect.Type) (any, error) {
	f, err := asFloat64(w)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return f, nil
	}
	return convertFloat(f, target)
}

type booleanConverter struct{}

func (booleanConverter) ToWire(v any) (any, error) {
	return asBool(v)
}

func (booleanConverter) FromWire(w any, target reflect.Type) (any, error) {
	b, err := asBool(w)
	if err != nil {
		return nil, err
	}
	if target == nil {
		return b, nil
	}
	switch target.Kind() {
	case reflect.Bool:
		return reflect.ValueOf(b).Convert(target).Interface(), nil
	case reflect.Interface:
		return b, nil
	}
	return nil, fmt.Errorf("cannot hydrate boolean into %s", target)
}

// timestampConverter maps wire timestamps (nanosecond epochs or RFC3339
// strings) to time.Time, int64 nanoseconds or types convertible from time.Time.
type timestampConverter struct{}

func (timestampConverter) ToWire(v any) (any, error) {
	return asTime(v)
}

func (timestampConverter) FromWire(w any, target reflect.Type) (any, error) {
	t, err := asTime(w)
	if err != nil {
		return nil, err
	}
	if target == nil || target == timeType {
		return t, nil
	}
	switch target.Kind() {
	case reflect.Int64:
		return reflect.ValueOf(t.UnixNano()).Convert(target).Interface(), nil
	case reflect.String:
		return reflect.ValueOf(t.Format(time.RFC3339Nano)).Convert(target).Interface(), nil
	case reflect.Interface:
		return t, nil
	}
	if timeType.ConvertibleTo(target) {
		return reflect.ValueOf(t).Convert(target).Interface(), nil
	}
	return nil, fmt.Errorf("cannot hydrate timestamp into %s", target)
}

func asString(v any) (string, error) {
	switch x := v.(type) {
	case string:
		return x, nil
	case json.Number:
		return x.String(), nil
	case []byte:
		return string(x), nil
	case time.Time:
		return x.Format(time.RFC3339Nano), nil
	case fmt.Stringer:
		return x.String(), nil
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.String:
		return rv.String(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return strconv.FormatInt(rv.Int(), 10), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return strconv.FormatUint(rv.Uint(), 10), nil
	case reflect.Float32, reflect.Float64:
		return strconv.FormatFloat(rv.Float(), 'f', -1, rv.Type().Bits()), nil
	case reflect.Bool:
		return strconv.FormatBool(rv.Bool()), nil
	}
	return "", fmt.Errorf("cannot convert %T to string", v)
}

func asInt64(v any) (int64, error) {
	switch x := v.(type) {
	case json.Number:
		if i, err := x.Int64(); err == nil {
			return i, nil
		}
		f, err := x.Float64()
		if err != nil {
			return 0, err
		}
		return floatToInt64(f)
	case string:
		return strconv.ParseInt(x, 10, 64)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return rv.Int(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		u := rv.Uint()
		if u > math.MaxInt64 {
			return 0, fmt.Errorf("integer %d overflows int64", u)
		}
		return int64(u), nil
	case reflect.Float32, reflect.Float64:
		return floatToInt64(rv.Float())
	}
	return 0, fmt.Errorf("cannot convert %T to integer", v)
}

// largeUint returns v as uint64 when it is an unsigned integer that does not
// fit in int64.
func largeUint(v any) (uint64, bool) {
	var u uint64
	switch x := v.(type) {
	case json.Number:
		n, err := strconv.ParseUint(x.String(), 10, 64)
		if err != nil {
			return 0, false
		}
		u = n
	case string:
		n, err := strconv.ParseUint(x, 10, 64)
		if err != nil {
			return 0, false
		}
		u = n
	default:
		rv := reflect.ValueOf(v)
		switch rv.Kind() {
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			u = rv.Uint()
		default:
			return 0, false
		}
	}
	return u, u > math.MaxInt64
}

func floatToInt64(f float64) (int64, error) {
	if f != math.Trunc(f) || f < math.MinInt64 || f >= math.MaxInt64 {
		return 0, fmt.Errorf("float %v is not an integer", f)
	}
	return int64(f), nil
}

func asFloat64(v any) (float64, error) {
	switch x := v.(type) {
	case json.Number:
		return x.Float64()
	case string:
		return strconv.ParseFloat(x, 64)
	}
	rv := reflect.ValueOf(v)
	switch rv.Kind() {
	case reflect.Float32, reflect.Float64:
		return rv.Float(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return float64(rv.Int()), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return float64(rv.Uint()), nil
	}
	return 0, fmt.Errorf("cannot convert %T to float", v)
}

func asBool(v any) (bool, error) {
	if s, ok := v.(string); ok {
		return strconv.ParseBool(s)
	}
	rv := reflect.ValueOf(v)
	if rv.Kind() == reflect.Bool {
		return rv.Bool(), nil
	}
	return false, fmt.Errorf("cannot convert %T to boolean", v)
}

func asTime(v any) (time.Time, error) {
	switch x := v.(type) {
	case time.Time:
		return x, nil
	case *time.Time:
		if x == nil {
			return time.Time{}, nil
		}
		return *x, nil
	case string:
		if t, err := time.Parse(time.RFC3339Nano, x); err == nil {
			return t, nil
		}
		ns, err := strconv.ParseInt(x, 10, 64)
		if err != nil {
			return time.Time{}, fmt.Errorf("invalid timestamp %q", x)
		}
		return time.Unix(0, ns).UTC(), nil
	}
	rv := reflect.ValueOf(v)
	if rv.IsValid() && rv.Type().ConvertibleTo(timeType) && rv.Kind() == reflect.Struct {
		return rv.Convert(timeType).Interface().(time.Time), nil
	}
	ns, err := asInt64(v)
	if err != nil {
		return time.Time{}, fmt.Errorf("cannot convert %T to timestamp", v)
	}
	return time.Unix(0, ns).UTC(), nil
}

func convertInt(i int64, target reflect.Type) (any, error) {
	switch target.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		if reflect.New(target).Elem().OverflowInt(i) {
			return nil, fmt.Errorf("integer %d overflows %s", i, target)
		}
		return reflect.ValueOf(i).Convert(target).Interface(), nil
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		if i < 0 || reflect.New(target).Elem().OverflowUint(uint64(i)) {
			return nil, fmt.Errorf("integer %d overflows %s", i, target)
		}
		return reflect.ValueOf(uint64(i)).Convert(target).Interface(), nil
	case reflect.Float32, reflect.Float64:
		return reflect.ValueOf(float64(i)).Convert(target).Interface(), nil
	case reflect.Interface:
		return i, nil
	}
	return nil, fmt.Errorf("cannot hydrate integer into %s", target)
}

func convertFloat(f float64, target reflect.Type) (any, error) {
	switch target.Kind() {
	case reflect.Float32, reflect.Float64:
		if reflect.New(target).Elem().OverflowFloat(f) {
			return nil, fmt.Errorf("float %v overflows %s", f, target)
		}
		return reflect.ValueOf(f).Convert(target).Interface(), nil
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		i, err := floatToInt64(f)
		if err != nil {
			return nil, err
		}
		return convertInt(i, target)
	case reflect.Interface:
		return f, nil
	}
	return nil, fmt.Errorf("cannot hydrate float into %s", target)
}

// normalizeWire turns decoder artifacts into canonical Go values.
func normalizeWire(w any) any {
	if n, ok := w.(json.Number); ok {
		if i, err := n.Int64(); err == nil {
			return i
		}
		if u, err := strconv.ParseUint(n.String(), 10, 64); err == nil {
			return u
		}
		if f, err := n.Float64(); err == nil {
			return f
		}
		return n.String()
	}
	return w
}
