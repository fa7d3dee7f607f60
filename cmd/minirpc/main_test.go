package main

import (
	"os"
	"testing"

	"oneshot-rpc/logging"
)

func TestMain(m *testing.M) {
	logging.ConfigureTests()
	os.Exit(m.Run())
}
