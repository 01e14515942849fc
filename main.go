package main

import (
	"github.com/anoncenomics/domain-indexer/cmd"
)

func main() {
	cmd.Execute()
}
