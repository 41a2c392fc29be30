// Package main provides the web-surveyor CLI.
//
// Usage:
//
//	web-surveyor crawl --config config.yaml
//	web-surveyor crawl --seed https://www.example.cz
//	web-surveyor version
package main

func main() {
	Execute()
}
