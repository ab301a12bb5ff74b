// Command innerfs is the CLI shell around the filesystem operations
// façade: generate-config, mount, nuke, export-index, export-files, stats
// and verify, each a thin invocation wrapper.
package main

func main() {
	Execute()
}
