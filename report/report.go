// Package report accounts per-call outcomes of the CLI.
package report

import (
	"google.golang.org/grpc/codes"
)

type CallReporter interface {
	Acquire(method string) CallState
}

type Reporter interface {
	CallReporter
	Run() error
	Close() error
}

type CallState interface {
	SetSize(int)            // сколько байт отправлено в вызове
	Received(int)           // размер очередного полученного сообщения
	Status(code codes.Code) // терминальный статус вызова
	End()                   // завершение вызова. отправляет результат в отчет
}
