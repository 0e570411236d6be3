// Package logs reads the tospatch log file for the "logs" command.
package logs
