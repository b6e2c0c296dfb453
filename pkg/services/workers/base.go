package workers

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/nats-io/nats.go"
	"go.uber.org/zap"
)

type Worker interface {
	Start(ctx context.Context) error
	Stop() error
	Name() string
}

// MessageHandler processes one message. Returning an error naks the message
// so JetStream redelivers it, up to the consumer's MaxDeliver.
type MessageHandler func(ctx context.Context, msg *nats.Msg) error

type BaseWorker struct {
	name      string
	js        nats.JetStreamContext
	mu        sync.Mutex
	sub       *nats.Subscription
	consumer  string
	stream    string
	subject   string
	batchSize int
	maxWait   time.Duration
	logger    *zap.Logger
}

func NewBaseWorker(name string, js nats.JetStreamContext, stream, consumer, subject string, logger *zap.Logger) *BaseWorker {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &BaseWorker{
		name:      name,
		js:        js,
		consumer:  consumer,
		stream:    stream,
		subject:   subject,
		batchSize: 10,
		maxWait:   2 * time.Second,
		logger:    logger.With(zap.String("worker", name)),
	}
}

func (w *BaseWorker) Name() string {
	return w.name
}

func (w *BaseWorker) Stop() error {
	w.mu.Lock()
	sub := w.sub
	w.mu.Unlock()

	if sub != nil && sub.IsValid() {
		return sub.Drain()
	}
	return nil
}

func (w *BaseWorker) processMessages(ctx context.Context, handler MessageHandler) error {
	sub, err := w.js.PullSubscribe(w.subject, w.consumer,
		nats.ManualAck(),
		nats.AckExplicit(),
		nats.Bind(w.stream, w.consumer),
	)
	if err != nil {
		return err
	}
	w.mu.Lock()
	w.sub = sub
	w.mu.Unlock()

	w.logger.Info("worker started",
		zap.String("stream", w.stream),
		zap.String("consumer", w.consumer))

	for {
		select {
		case <-ctx.Done():
			w.logger.Info("worker stopping")
			return ctx.Err()
		default:
		}

		msgs, err := sub.Fetch(w.batchSize, nats.MaxWait(w.maxWait))
		if err != nil {
			if ctx.Err() != nil {
				return ctx.Err()
			}
			if errors.Is(err, nats.ErrTimeout) || errors.Is(err, context.DeadlineExceeded) {
				continue
			}
			if errors.Is(err, nats.ErrConnectionClosed) || errors.Is(err, nats.ErrBadSubscription) {
				return err
			}
			w.logger.Warn("error fetching messages", zap.Error(err))
			continue
		}

		for _, msg := range msgs {
			if err := handler(ctx, msg); err != nil {
				w.logger.Error("message handling failed",
					zap.String("subject", msg.Subject), zap.Error(err))
				if nakErr := msg.Nak(); nakErr != nil {
					w.logger.Error("error naking message", zap.Error(nakErr))
				}
				continue
			}
			if err := msg.Ack(); err != nil {
				w.logger.Error("error acknowledging message", zap.Error(err))
			}
		}
	}
}
