// Command atlas runs the Interview Atlas local backend.
package main

import "github.com/interview-atlas/atlas/internal/cli"

func main() {
	cli.Execute()
}
