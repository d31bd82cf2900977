package main

import (
	"os"

	"github.com/sirupsen/logrus"

	"github.com/mjolnir42/velotrain/internal/cli"
)

func main() {
	if err := cli.NewRootCommand().Execute(); err != nil {
		logrus.Error(err)
		os.Exit(1)
	}
}
