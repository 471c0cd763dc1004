package main

import (
	"os"

	"github.com/astromechza/canvas-sync/pkg/logx"
)

func main() {
	if err := NewRootCommand().Execute(); err != nil {
		logx.L.Error(err.Error())
		_ = logx.L.Sync()
		os.Exit(1)
	}
}
