/*
Package main contains a command-line example for gxserialsession.

The example shows how to:
  - list the available serial ports
  - configure a session from a YAML file and command-line flags
  - register session callbacks (trace, state, error, log)
  - send lines read from standard input and print the log as it grows
*/
package main
