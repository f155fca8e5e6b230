// Command pharmachat serves and chats with the pharmaceutical Q&A agent.
package main

import "os"

func main() {
	if err := NewRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}
