package main

import "github.com/LucaCarlo/WebPBatch-Pro/cmd"

func main() {
	cmd.Execute()
}
