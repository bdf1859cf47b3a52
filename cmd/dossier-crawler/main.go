package main

import (
	"os"

	"github.com/JakeFAU/dossier-crawler/cmd"
)

func main() {
	os.Exit(cmd.Execute())
}
