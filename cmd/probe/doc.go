// Package main is a one-shot capabilities probe.
//
// It fetches availability for every origin given on the command line and
// prints what the backend reported as JSON. The exit status is 1 when any
// origin could not be fetched.
//
// Usage:
//
//	./probe https://shop.example https://store.example
//	./probe -form-signature 1234567890 -transport grpc https://shop.example
package main
