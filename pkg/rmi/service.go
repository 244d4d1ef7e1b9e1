package rmi

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"reflect"

	"github.com/kbirk/rmi/internal/util"
)

// Method is the uniform signature every remotely invocable member is adapted to.
type Method func(ctx context.Context, args []any) (any, error)

// Service resolves method names at dispatch time.
type Service interface {
	Method(name string) (Method, bool)
}

// Methods is an explicit capability map. A nil entry names a member that
// exists but cannot be called.
type Methods map[string]Method

func (m Methods) Method(name string) (Method, bool) {
	fn, ok := m[name]
	if !ok || fn == nil {
		return nil, false
	}
	return fn, true
}

var (
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
)

// NewService builds the capability map of receiver once, exposing every
// exported method under its lowerCamel name. A method may take a leading
// context.Context and may return nothing, a value, an error, or a value and an
// error. Methods with any other result shape are listed but not callable.
func NewService(receiver any) Methods {
	methods := Methods{}
	if receiver == nil {
		return methods
	}
	rv := reflect.ValueOf(receiver)
	rt := rv.Type()
	for i := 0; i < rt.NumMethod(); i++ {
		m := rt.Method(i)
		if !m.IsExported() {
			continue
		}
		methods[util.EnsureCamelCase(m.Name)] = adaptMethod(m.Name, rv.Method(i))
	}
	return methods
}

func adaptMethod(name string, fn reflect.Value) Method {
	ft := fn.Type()

	offset := 0
	if ft.NumIn() > 0 && ft.In(0) == contextType {
		offset = 1
	}

	numOut := ft.NumOut()
	returnsErr := numOut > 0 && ft.Out(numOut-1) == errorType
	returnsValue := numOut == 2 || (numOut == 1 && !returnsErr)
	if numOut > 2 || (numOut == 2 && !returnsErr) {
		return nil
	}

	numParams := ft.NumIn() - offset
	variadic := ft.IsVariadic()

	return func(ctx context.Context, args []any) (any, error) {
		if variadic {
			if len(args) < numParams-1 {
				return nil, fmt.Errorf("%w: %s expects at least %d arguments, got %d", ErrInvalidArguments, name, numParams-1, len(args))
			}
		} else if len(args) != numParams {
			return nil, fmt.Errorf("%w: %s expects %d arguments, got %d", ErrInvalidArguments, name, numParams, len(args))
		}

		in := make([]reflect.Value, 0, offset+len(args))
		if offset == 1 {
			if ctx == nil {
				ctx = context.Background()
			}
			in = append(in, reflect.ValueOf(ctx))
		}
		for i, arg := range args {
			var t reflect.Type
			if variadic && i >= numParams-1 {
				t = ft.In(ft.NumIn() - 1).Elem()
			} else {
				t = ft.In(offset + i)
			}
			v, err := convertValue(arg, t)
			if err != nil {
				return nil, fmt.Errorf("%w: argument %d of %s: %v", ErrInvalidArguments, i, name, err)
			}
			in = append(in, v)
		}

		out := fn.Call(in)

		if returnsErr {
			if errV := out[len(out)-1]; !errV.IsNil() {
				return nil, errV.Interface().(error)
			}
		}
		if returnsValue {
			return out[0].Interface(), nil
		}
		return nil, nil
	}
}

// As converts a Call result or argument into T. Values that crossed a byte
// transport arrive in their decoded form and are converted through the codec
// representation.
func As[T any](v any) (T, error) {
	var out T
	rv, err := convertValue(v, reflect.TypeOf(&out).Elem())
	if err != nil {
		return out, err
	}
	reflect.ValueOf(&out).Elem().Set(rv)
	return out, nil
}

func convertValue(v any, t reflect.Type) (reflect.Value, error) {
	if v == nil {
		return reflect.Zero(t), nil
	}
	rv := reflect.ValueOf(v)
	if rv.Type().AssignableTo(t) {
		return rv, nil
	}
	if isNumeric(rv.Kind()) && isNumeric(t.Kind()) {
		if !fitsNumeric(rv, t) {
			return reflect.Value{}, fmt.Errorf("cannot convert %v to %s without loss", v, t)
		}
		return rv.Convert(t), nil
	}
	bs, err := json.Marshal(v)
	if err != nil {
		return reflect.Value{}, fmt.Errorf("cannot convert %T to %s: %w", v, t, err)
	}
	ptr := reflect.New(t)
	if err := json.Unmarshal(bs, ptr.Interface()); err != nil {
		return reflect.Value{}, fmt.Errorf("cannot convert %T to %s: %w", v, t, err)
	}
	return ptr.Elem(), nil
}

func isInt(k reflect.Kind) bool {
	switch k {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		return true
	}
	return false
}

func isUint(k reflect.Kind) bool {
	switch k {
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return true
	}
	return false
}

func isFloat(k reflect.Kind) bool {
	return k == reflect.Float32 || k == reflect.Float64
}

func isNumeric(k reflect.Kind) bool {
	return isInt(k) || isUint(k) || isFloat(k)
}

// fitsNumeric reports whether v converts to t without truncation, wraparound
// or overflow. Integers widening to floats are accepted as is.
func fitsNumeric(v reflect.Value, t reflect.Type) bool {
	target := reflect.Zero(t)
	switch {
	case isInt(v.Kind()):
		n := v.Int()
		switch {
		case isInt(t.Kind()):
			return !target.OverflowInt(n)
		case isUint(t.Kind()):
			return n >= 0 && !target.OverflowUint(uint64(n))
		}
		return true
	case isUint(v.Kind()):
		n := v.Uint()
		switch {
		case isInt(t.Kind()):
			return n <= math.MaxInt64 && !target.OverflowInt(int64(n))
		case isUint(t.Kind()):
			return !target.OverflowUint(n)
		}
		return true
	}

	f := v.Float()
	if isFloat(t.Kind()) {
		return math.IsNaN(f) || math.IsInf(f, 0) || !target.OverflowFloat(f)
	}
	if f != math.Trunc(f) || math.IsInf(f, 0) {
		return false
	}
	if isInt(t.Kind()) {
		return f >= math.MinInt64 && f < math.MaxInt64 && !target.OverflowInt(int64(f))
	}
	return f >= 0 && f < math.MaxUint64 && !target.OverflowUint(uint64(f))
}
