// The main package for the aiops-data-collector executable.
package main

import "github.com/AparnaKarve/aiops-data-collector/cmd"

func main() {
	cmd.Execute()
}
