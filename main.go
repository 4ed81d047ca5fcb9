package main

import "github.com/andresmejia3/facegroup/cmd"

func main() {
	cmd.Execute()
}
