// ./main.go
package main

import (
	"github.com/tessierlabs/storeforge/cmd"
)

func main() {
	cmd.Execute()
}
