// Package main is the entry point of the document processing pipeline.
package main

import "docpipeline/cmd"

func main() {
	cmd.Execute()
}
