package main

import "ocm.software/open-component-model/contribution/cmd"

func main() {
	cmd.Execute()
}
