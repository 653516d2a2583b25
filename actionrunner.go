// Package actionrunner runs registered automation actions as supervised
// child processes and recovers a structured result from their output.
package actionrunner

// Version is the actionrunner release version.
const Version = "0.3.0"
