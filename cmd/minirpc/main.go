package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"oneshot-rpc/logging"
)

func main() {
	logging.ConfigureRuntime()
	if err := Execute(); err != nil {
		log.Error().Str("module", "minirpc").Err(err).Msg("exit")
		os.Exit(1)
	}
}
