// Command ttg starts and inspects task-graph runtimes described by a
// config file, the thin main the cmd/cmd library is built to be driven
// from (mirroring whitaker-io/machine's own cmd module layout).
package main

import "github.com/ttg-go/ttg/cmd/cmd"

func main() {
	cmd.Execute()
}
