package main

import (
	"os"

	"github.com/bnema/kiro-chat-gateway/cmd"
)

func main() {
	if err := cmd.Execute(); err != nil {
		os.Exit(1)
	}
}
