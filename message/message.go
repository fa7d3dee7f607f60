// Package message defines the values exchanged between caller and listener.
//
// Each connection carries exactly one Request followed by exactly one Response.
// Neither value carries an identifier: correlation is the connection itself.
// The serializer turns them into opaque payloads which the protocol layer wraps
// in length-prefixed frames.
package message

import "fmt"

// Request names the remote target of a call.
//
// A Request is built by the caller right before sending and is never mutated
// afterwards; pass it by pointer only to avoid copies.
type Request struct {
	InterfaceName string `json:"interfaceName"` // e.g. "interface"
	MethodName    string `json:"methodName"`    // e.g. "hello"
}

// Response carries the listener's answer to a Request.
type Response struct {
	Message string `json:"message"`
}

func (r Request) String() string {
	return fmt.Sprintf("Request{interfaceName=%s, methodName=%s}", r.InterfaceName, r.MethodName)
}

func (r Response) String() string {
	return fmt.Sprintf("Response{message=%s}", r.Message)
}

// Type tags the destination type of a payload. Payloads are not
// self-describing, so both frame encoder and decoder are told which one to expect.
type Type byte

const (
	TypeUnknown  Type = 0
	TypeRequest  Type = 1
	TypeResponse Type = 2
)

func (t Type) String() string {
	switch t {
	case TypeRequest:
		return "request"
	case TypeResponse:
		return "response"
	default:
		return "unknown"
	}
}

// TypeOf reports the tag of v, accepting both values and pointers.
func TypeOf(v any) Type {
	switch v.(type) {
	case Request, *Request:
		return TypeRequest
	case Response, *Response:
		return TypeResponse
	default:
		return TypeUnknown
	}
}
