// Command softmmu benchmarks and monitors the software MMU.
package main

func main() {
	Execute()
}
