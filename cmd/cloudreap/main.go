// Cloudreap - OpenStack tenant garbage collector.
// Observe. Evaluate. Reap.
package main

func main() {
	Execute()
}
