package service

import (
	"context"
	"errors"
	"fmt"
	"reflect"

	"mini-lpc/codec"
	"mini-lpc/message"
	"mini-lpc/middleware"
)

var jsonArgs codec.Codec = &codec.JSONCodec{}

var (
	errorType   = reflect.TypeOf((*error)(nil)).Elem()
	contextType = reflect.TypeOf((*context.Context)(nil)).Elem()
	argsType    = reflect.TypeOf([][]byte(nil))
	bytesType   = reflect.TypeOf([]byte(nil))
)

// receiverMethods scans rcvr for exported methods usable as LPC functions and
// returns them keyed "Type.Method". Two shapes are accepted:
//
//	func (r *T) Raw(ctx context.Context, args [][]byte) ([]byte, error)
//	func (r *T) Typed(ctx context.Context, args *Args, reply *Reply) error
//
// Typed methods take their first argument as JSON and return the reply as JSON.
func receiverMethods(rcvr any) (map[string]middleware.HandlerFunc, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("lpc: receiver must be a pointer, got %v", typ)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("lpc: receiver must point to a struct, got %s", typ.Elem().Kind())
	}
	val := reflect.ValueOf(rcvr)
	name := typ.Elem().Name()

	out := make(map[string]middleware.HandlerFunc)
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		switch {
		case isRawMethod(m.Type):
			out[name+"."+m.Name] = rawHandler(val, m)
		case isTypedMethod(m.Type):
			out[name+"."+m.Name] = typedHandler(val, m)
		}
	}
	if len(out) == 0 {
		return nil, fmt.Errorf("lpc: %s has no exported methods of a handler shape", name)
	}
	return out, nil
}

func isRawMethod(t reflect.Type) bool {
	return t.NumIn() == 3 && t.NumOut() == 2 &&
		t.In(1) == contextType && t.In(2) == argsType &&
		t.Out(0) == bytesType && t.Out(1) == errorType
}

func isTypedMethod(t reflect.Type) bool {
	return t.NumIn() == 4 && t.NumOut() == 1 &&
		t.In(1) == contextType &&
		t.In(2).Kind() == reflect.Ptr && t.In(3).Kind() == reflect.Ptr &&
		t.Out(0) == errorType
}

func rawHandler(rcvr reflect.Value, m reflect.Method) middleware.HandlerFunc {
	return func(ctx context.Context, call *message.Envelope) ([]byte, error) {
		out := m.Func.Call([]reflect.Value{rcvr, reflect.ValueOf(ctx), reflect.ValueOf(call.Args)})
		return out[0].Bytes(), asError(out[1])
	}
}

func typedHandler(rcvr reflect.Value, m reflect.Method) middleware.HandlerFunc {
	argType := m.Type.In(2).Elem()
	replyType := m.Type.In(3).Elem()
	return func(ctx context.Context, call *message.Envelope) ([]byte, error) {
		argv := reflect.New(argType)
		args := call.Args
		if len(args) > 1 {
			args = args[:1]
		}
		if err := codec.DecodeArgs(jsonArgs, args, argv.Interface()); err != nil {
			return nil, fmt.Errorf("decode arguments of %s: %w", call.Function, err)
		}
		replyv := reflect.New(replyType)

		out := m.Func.Call([]reflect.Value{rcvr, reflect.ValueOf(ctx), argv, replyv})
		if err := asError(out[0]); err != nil {
			return nil, err
		}
		return jsonArgs.Encode(replyv.Interface())
	}
}

func asError(v reflect.Value) error {
	if v.IsNil() {
		return nil
	}
	err, ok := v.Interface().(error)
	if !ok {
		return errors.New("lpc: handler returned a non-error value")
	}
	return err
}
