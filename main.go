package main

import (
	"os"

	"prompt-cache/internal/app"
)

func main() {
	if err := app.Run(); err != nil {
		os.Exit(1)
	}
}
