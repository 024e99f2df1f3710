// Package logx wraps zerolog for dashpulse.
//
// Console output is human-readable with a short file:line caller, the log
// file gets JSON lines, and records at or above a configured level can be
// mirrored to an operator chat through an AlertSender.
package logx
