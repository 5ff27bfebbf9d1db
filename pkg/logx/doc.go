// Package logx is remindbot's structured logging layer.
//
// A thin wrapper over zerolog keeps console output short (compact timestamp,
// file:line caller), file output JSON, and optionally forwards warnings to a
// chat through a rate-limited sink.
package logx
