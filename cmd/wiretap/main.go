// Command wiretap runs the MCP interception proxy.
package main

import "github.com/wiretap-mcp/wiretap/cmd/wiretap/cmd"

func main() {
	cmd.Execute()
}
