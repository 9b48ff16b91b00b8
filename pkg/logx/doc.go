// Package logx is pookie's structured logging on top of zerolog.
//
// Console output stays readable (short timestamp, short caller); files and
// the json format keep entries structured. A Service can be re-applied at
// runtime and every Logger derived from it follows.
package logx
