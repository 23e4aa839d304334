package main

import (
	cmd "github.com/cozy-creator/model-cache/cmd/cozy"
)

func main() {
	cmd.Execute()
}
