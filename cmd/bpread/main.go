package main

import "github.com/MeKo-Tech/bpread/cmd/bpread/cmd"

func main() {
	cmd.Execute()
}
