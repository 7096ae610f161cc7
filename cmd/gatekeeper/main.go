// Command gatekeeper runs the policy enforcement gateway.
package main

import "github.com/runestone-labs/gatekeeper/cmd/gatekeeper/cmd"

func main() {
	cmd.Execute()
}
