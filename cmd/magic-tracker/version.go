package main

// Version and Gitref are set at build time.
var (
	Version = "0.1.0"
	Gitref  = ""
)
