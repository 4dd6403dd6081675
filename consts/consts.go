package consts

import (
	"time"
)

const (
	// HighWaterMark - длина очереди записи, начиная с которой write сигнализирует backpressure.
	HighWaterMark = 10

	// TransportOpsBuffer - сколько операций одной стороны стрима может ждать исполнения.
	// На стороне отправки одновременно живут не больше StartCall, одного Write и WritesDone.
	TransportOpsBuffer = 4

	DefaultQueueSize   = 16
	DefaultTableShards = 16

	DefaultTimeout       = 11 * time.Second
	DefaultCancelTimeout = 5 * time.Second

	DefaultMaxHeaderListSize = 16 << 10 // совпадает с дефолтом grpc-go для входящих заголовков
	DefaultLRUSize           = 1 << 10

	// MaxRequestSize - ограничение на одну запись в файле запросов.
	MaxRequestSize = 4 << 20
)
