package main

import "github.com/jmehdipour/order-saga/cmd"

func main() {
	cmd.Execute()
}
