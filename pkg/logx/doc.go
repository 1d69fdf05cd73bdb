// Package logx is moltby's logging layer over zerolog.
//
// Console output is human readable with a short caller, the optional file
// sink is JSON, and the optional chat sink forwards warnings to an operator
// conversation through the transport gateway, rate limited.
package logx
