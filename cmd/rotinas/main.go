// rotinas automates terminal screens with small Go scripts.
package main

func main() {
	Execute()
}
