// Command demo drives the AMQP engine end to end against the
// in-process fixture broker: it opens a channel, declares an exchange
// and queue, publishes a confirmed message, and consumes it back,
// logging every step. It exists to exercise the engine the way an
// embedding application would, without requiring a real broker.
//
// Everything here runs on one goroutine. The engine is not safe for
// concurrent use, so unlike a typical net.Conn consumer this demo does
// not hand reading off to its own goroutine: it alternates blocking
// reads with PushBytes calls, and every operation it issues runs from
// inside an OnSuccess callback invoked synchronously during PushBytes.
package main

import (
	"fmt"
	"net"
	"os"
	"time"

	"github.com/coredial/amqpengine/internal/fixturebroker"
	"github.com/coredial/amqpengine/pkg/amqp"
	"github.com/rs/zerolog"
)

func main() {
	logger := zerolog.New(os.Stderr).With().Timestamp().Logger()
	amqp.SetLogger(logger)

	serverSide, clientSide := net.Pipe()

	broker := fixturebroker.NewBroker(logger)
	go func() {
		if err := broker.Serve(serverSide); err != nil {
			logger.Debug().Err(err).Msg("fixture broker connection ended")
		}
	}()

	conn := amqp.NewConnection(amqp.ConnectionConfig{
		Username: "guest",
		Password: "guest",
	})

	closed := false
	conn.OnClose(func(err error) {
		closed = true
		logger.Info().Err(err).Msg("connection closed")
	})

	received := make(chan amqp.Envelope, 1)

	conn.Connected().
		OnSuccess(func(interface{}) {
			logger.Info().Msg("connection open")
			ch := conn.OpenChannel()
			ch.OnClose(func(err error) { logger.Info().Err(err).Msg("channel closed") })
			ch.OnConfirm(func(ack bool, tag uint64, multiple bool) {
				logger.Info().Bool("ack", ack).Uint64("tag", tag).Msg("publish confirmed")
			})

			ch.Confirm(false).OnSuccess(func(interface{}) {
				logger.Info().Msg("channel in confirm mode")
			})

			ch.ExchangeDeclare("demo.direct", "direct", false, false, false, false, nil).
				OnSuccess(func(interface{}) {
					ch.QueueDeclare("demo.queue", false, false, false, false, false, nil).
						OnSuccess(func(interface{}) {
							ch.QueueBind("demo.queue", "demo.key", "demo.direct", false, nil).
								OnSuccess(func(interface{}) {
									ch.Consume("demo.queue", "", false, false, false, false, false, nil, func(env amqp.Envelope) {
										received <- env
										ch.Ack(env.DeliveryTag, false)
									}).OnSuccess(func(result interface{}) {
										logger.Info().Interface("consumer_tag", result).Msg("consuming")
										seq, err := ch.Publish("demo.direct", "demo.key", false, false, amqp.BasicProperties{
											ContentType: "text/plain",
										}, []byte("hello from the demo"))
										if err != nil {
											logger.Error().Err(err).Msg("publish")
											return
										}
										logger.Info().Uint64("seq", seq).Msg("published")
									})
								})
						})
				})
		}).
		OnError(func(err error) {
			logger.Fatal().Err(err).Msg("connection failed")
		})

	deadline := time.Now().Add(5 * time.Second)
	flush(clientSide, conn, logger)

	buf := make([]byte, 4096)
	for {
		select {
		case env := <-received:
			fmt.Printf("received message: %q (routing key %s)\n", env.Body, env.RoutingKey)
			conn.Close(200, "demo finished")
			flush(clientSide, conn, logger)
		default:
		}
		if closed || time.Now().After(deadline) {
			break
		}
		clientSide.SetReadDeadline(time.Now().Add(200 * time.Millisecond))
		n, err := clientSide.Read(buf)
		if n > 0 {
			if perr := conn.PushBytes(buf[:n]); perr != nil {
				logger.Debug().Err(perr).Msg("engine reported connection failure")
			}
			flush(clientSide, conn, logger)
		}
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			break
		}
	}
	clientSide.Close()
}

func flush(conn net.Conn, engine *amqp.Connection, logger zerolog.Logger) {
	if b := engine.DrainOutput(); len(b) > 0 {
		if _, err := conn.Write(b); err != nil {
			logger.Debug().Err(err).Msg("write failed")
		}
	}
}
