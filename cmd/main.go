package main

import (
	"os"

	"github.com/soundprediction/newsdedup/cmd/newsdedup"
)

func main() {
	if err := newsdedup.Execute(); err != nil {
		os.Exit(1)
	}
}
