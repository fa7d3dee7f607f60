package server

import (
	"context"

	"oneshot-rpc/message"
)

// DefaultMessage is the canned reply of StaticDispatcher.
const DefaultMessage = "message from server"

// Dispatcher produces the response for a decoded request. An error means no
// response is sent: the listener logs it and closes the connection.
type Dispatcher interface {
	Dispatch(ctx context.Context, req *message.Request) (*message.Response, error)
}

// DispatcherFunc adapts a plain function to Dispatcher.
type DispatcherFunc func(ctx context.Context, req *message.Request) (*message.Response, error)

func (f DispatcherFunc) Dispatch(ctx context.Context, req *message.Request) (*message.Response, error) {
	return f(ctx, req)
}

// StaticDispatcher ignores the request and always answers with Message.
type StaticDispatcher struct {
	Message string
}

func NewStaticDispatcher() *StaticDispatcher {
	return &StaticDispatcher{Message: DefaultMessage}
}

func (d *StaticDispatcher) Dispatch(ctx context.Context, req *message.Request) (*message.Response, error) {
	return &message.Response{Message: d.Message}, nil
}
