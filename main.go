// package main is the entry point for the sbom-enrich service and CLI
package main

import "github.com/opensbom/sbom-enrich/cmd"

func main() {
	cmd.Execute()
}
