// Command rtide-shell is a terminal front end that edits and runs programs on
// a Judge0 execution service.
package main

func main() {
	Execute()
}
