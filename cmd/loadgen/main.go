package main

import (
	"os"

	"github.com/PratikDhanave/factory-events-service/internal/loadgen"
	"github.com/PratikDhanave/factory-events-service/internal/logging"
)

func main() {
	if err := loadgen.Run(os.Args[1:], os.Stdout); err != nil {
		log := logging.New(logging.Options{Human: true, Out: os.Stderr})
		log.Fatal().Err(err).Msg("loadgen failed")
	}
}
