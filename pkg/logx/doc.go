// Package logx wraps zerolog behind a small value-type Logger.
//
// Components accept a logx.Logger in their constructor; the zero value and
// logx.Nop() are safe no-op loggers, so wiring stays optional in tests.
package logx
