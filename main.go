package main

import "github.com/haozheli/docchat/cmd"

func main() {
	cmd.Execute()
}
