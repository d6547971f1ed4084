package main

import (
	_ "embed"
	"os"

	"github.com/anoop6543/PharmaVax-sub001/pkg/control/support/util/logger"
)

// defaultConfig is used when --config is not given.
//
//go:embed resources/controller.yaml
var defaultConfig []byte

func main() {
	if err := newRootCommand().Execute(); err != nil {
		logger.Errorf("%v", err)
		os.Exit(1)
	}
}
