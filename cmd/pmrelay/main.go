package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/pmrelay/pmrelay/relayservice"
)

func main() {
	if err := relayservice.Run(); err != nil {
		log.Error().Err(err).Msg("pmrelay exited with error")
		os.Exit(1)
	}
}
