// Command tutor runs the tutoring assistant locally: an interactive chat,
// course document ingestion and one-shot document summaries.
package main

import (
	"os"
)

func main() {
	if err := newRootCommand().Execute(); err != nil {
		os.Exit(1)
	}
}
