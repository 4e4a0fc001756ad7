package main

import (
	"os"

	"github.com/rs/zerolog/log"

	"github.com/textmit/textmit/smsservice"
)

func main() {
	if err := smsservice.Run(); err != nil {
		log.Error().Err(err).Msg("sms-service exited with error")
		os.Exit(1)
	}
}
