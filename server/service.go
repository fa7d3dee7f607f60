package server

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"

	"oneshot-rpc/message"
)

var ErrUnknownMethod = errors.New("server: unknown interface or method")

var (
	errorType    = reflect.TypeOf((*error)(nil)).Elem()
	contextType  = reflect.TypeOf((*context.Context)(nil)).Elem()
	requestType  = reflect.TypeOf((*message.Request)(nil))
	responseType = reflect.TypeOf((*message.Response)(nil))
)

type methodType struct {
	method  reflect.Method
	withCtx bool
}

type service struct {
	name   string
	rcvr   reflect.Value
	typ    reflect.Type
	method map[string]*methodType
}

// newService scans rcvr for exported methods shaped like
//
//	func (s *T) Name(req *message.Request, resp *message.Response) error
//	func (s *T) Name(ctx context.Context, req *message.Request, resp *message.Response) error
func newService(name string, rcvr any) (*service, error) {
	typ := reflect.TypeOf(rcvr)
	if typ == nil || typ.Kind() != reflect.Ptr {
		return nil, fmt.Errorf("server: rcvr must be a pointer, got %T", rcvr)
	}
	if typ.Elem().Kind() != reflect.Struct {
		return nil, fmt.Errorf("server: rcvr must point to a struct, got %s", typ.Elem().Kind())
	}
	if name == "" {
		name = typ.Elem().Name()
	}
	svc := &service{
		name:   name,
		rcvr:   reflect.ValueOf(rcvr),
		typ:    typ,
		method: make(map[string]*methodType),
	}
	svc.registerMethods()
	if len(svc.method) == 0 {
		return nil, fmt.Errorf("server: %s has no methods of the form (req *message.Request, resp *message.Response) error", name)
	}
	return svc, nil
}

func (s *service) registerMethods() {
	for i := 0; i < s.typ.NumMethod(); i++ {
		method := s.typ.Method(i)
		mt := method.Type
		if mt.NumOut() != 1 || mt.Out(0) != errorType {
			continue
		}
		switch {
		case mt.NumIn() == 3 && mt.In(1) == requestType && mt.In(2) == responseType:
			s.method[method.Name] = &methodType{method: method}
		case mt.NumIn() == 4 && mt.In(1) == contextType && mt.In(2) == requestType && mt.In(3) == responseType:
			s.method[method.Name] = &methodType{method: method, withCtx: true}
		}
	}
}

func (s *service) call(ctx context.Context, mType *methodType, req *message.Request) (*message.Response, error) {
	resp := &message.Response{}
	args := []reflect.Value{s.rcvr}
	if mType.withCtx {
		args = append(args, reflect.ValueOf(&ctx).Elem())
	}
	args = append(args, reflect.ValueOf(req), reflect.ValueOf(resp))

	results := mType.method.Func.Call(args)
	if errv := results[0]; !errv.IsNil() {
		return nil, errv.Interface().(error)
	}
	return resp, nil
}

// Router dispatches on Request.InterfaceName and Request.MethodName to
// registered receivers and handler funcs. Register everything before serving;
// lookups take a read lock only.
type Router struct {
	mu       sync.RWMutex
	services map[string]*service
	funcs    map[string]DispatcherFunc
}

func NewRouter() *Router {
	return &Router{
		services: make(map[string]*service),
		funcs:    make(map[string]DispatcherFunc),
	}
}

// Register exposes rcvr's methods under its struct type name.
func (r *Router) Register(rcvr any) error {
	return r.RegisterName("", rcvr)
}

// RegisterName exposes rcvr's methods under interface name.
func (r *Router) RegisterName(name string, rcvr any) error {
	svc, err := newService(name, rcvr)
	if err != nil {
		return err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, dup := r.services[svc.name]; dup {
		return fmt.Errorf("server: interface %q already registered", svc.name)
	}
	r.services[svc.name] = svc
	return nil
}

// HandleFunc routes one interface/method pair to fn. It takes precedence over
// a registered receiver with the same names.
func (r *Router) HandleFunc(iface, method string, fn DispatcherFunc) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.funcs[iface+"."+method] = fn
}

func (r *Router) Dispatch(ctx context.Context, req *message.Request) (*message.Response, error) {
	r.mu.RLock()
	fn, ok := r.funcs[req.InterfaceName+"."+req.MethodName]
	svc := r.services[req.InterfaceName]
	r.mu.RUnlock()

	if ok {
		return fn(ctx, req)
	}
	if svc == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, req.InterfaceName, req.MethodName)
	}
	mType := svc.method[req.MethodName]
	if mType == nil {
		return nil, fmt.Errorf("%w: %s.%s", ErrUnknownMethod, req.InterfaceName, req.MethodName)
	}
	return svc.call(ctx, mType, req)
}
