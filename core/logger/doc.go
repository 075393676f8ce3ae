// Package logger is a standardized event logging framework for the shell.
//
// Events are stored as newline delimited JSON objects encoded with protojson
// so they can be consumed by the same tooling as other protobuf event logs.
package logger
