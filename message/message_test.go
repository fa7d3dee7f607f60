package message

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTypeOf(t *testing.T) {
	assert.Equal(t, TypeRequest, TypeOf(Request{}))
	assert.Equal(t, TypeRequest, TypeOf(&Request{}))
	assert.Equal(t, TypeResponse, TypeOf(Response{}))
	assert.Equal(t, TypeResponse, TypeOf(&Response{}))
	assert.Equal(t, TypeUnknown, TypeOf("hello"))
	assert.Equal(t, TypeUnknown, TypeOf(nil))
}

func TestTypeString(t *testing.T) {
	assert.Equal(t, "request", TypeRequest.String())
	assert.Equal(t, "response", TypeResponse.String())
	assert.Equal(t, "unknown", Type(42).String())
}

func TestRequestJSONFieldNames(t *testing.T) {
	req := &Request{InterfaceName: "interface", MethodName: "hello"}

	data, err := json.Marshal(req)
	require.NoError(t, err)
	assert.JSONEq(t, `{"interfaceName":"interface","methodName":"hello"}`, string(data))

	assert.Equal(t, "Request{interfaceName=interface, methodName=hello}", req.String())
	assert.Equal(t, "Response{message=message from server}", Response{Message: "message from server"}.String())
}
