// anthill runs compiled swarm programs and inspects them.
package main

func main() {
	Execute()
}
