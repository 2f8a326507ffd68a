package main

import "github.com/JakeFAU/review-pipeline/cmd"

func main() {
	cmd.Execute()
}
