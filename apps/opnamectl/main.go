package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		log, logErr := zap.NewDevelopment()
		if logErr != nil {
			fmt.Fprintln(os.Stderr, err)
			os.Exit(1)
		}
		log.Error("command failed", zap.Error(err))
		_ = log.Sync()
		os.Exit(1)
	}
}
