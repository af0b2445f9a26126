package main

import "github.com/clinigate/authgw/cmd"

func main() {
	cmd.Execute()
}
