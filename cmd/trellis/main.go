// Command trellis runs the Trellis CLI: init a planning root or serve
// its tool operations over HTTP.
package main

import "github.com/trellis-mcp/trellis-go/cmd"

func main() {
	cmd.Execute()
}
