// Copyright 2025 The go-obsidian Authors
// This file is part of the go-obsidian library.

// Command station relays machine station operations from the command line
// and serves them over HTTP.
package main

func main() {
	Execute()
}
