package main

import (
	"os"

	"github.com/moctezuma-dev/zappy-back/crmservice"
)

func main() {
	if err := crmservice.Run(); err != nil {
		os.Exit(1)
	}
}
