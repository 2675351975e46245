package main

import (
	"fmt"
	"io"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/curtisnewbie/evbus/core"
	"github.com/curtisnewbie/evbus/encoding/json"
	"github.com/curtisnewbie/evbus/middleware/rabbit"
	"github.com/spf13/cobra"
)

const listenHandlerId = "evbus-cli.dump"

func newListenCmd() *cobra.Command {
	var queue string
	var pretty bool

	cmd := &cobra.Command{
		Use:   "listen EVENT...",
		Short: "Subscribe to events and dump deliveries",
		Long: `Bind the events to a queue and print every delivery until interrupted.
The queue is durable, so deliveries published while the listener is down are printed on the next run.`,
		Example: `  evbus listen MediaEncoding.Started MediaEncoding.Completed --queue ops-debug`,
		Args:    cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if queue != "" {
				core.SetProp(rabbit.PropRabbitMqBusQueue, queue)
			}
			rail := core.EmptyRail()

			return withBus(rail, func(bus *rabbit.EventBus) error {
				h := newDumpHandler(cmd.OutOrStdout(), pretty)
				if err := bus.SubscribeAll(rail, rabbit.Bind(listenHandlerId, h, args...)); err != nil {
					return err
				}
				fmt.Fprintf(cmd.ErrOrStderr(), "Listening on queue '%s' for %v, press Ctrl+C to stop\n", bus.Param().Queue, args)

				sig := make(chan os.Signal, 1)
				signal.Notify(sig, os.Interrupt, syscall.SIGTERM)
				defer signal.Stop(sig)

				select {
				case <-sig:
				case <-cmd.Context().Done():
				}
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&queue, "queue", "q", "", "Queue to consume from, defaults to 'rabbitmq.bus.queue'")
	cmd.Flags().BoolVar(&pretty, "pretty", false, "Indent json payload")
	return cmd
}

func newDumpHandler(w io.Writer, pretty bool) rabbit.RawHandler {
	var mu sync.Mutex
	return func(rail core.Rail, eventName string, payload string) error {
		if pretty && payload != "" {
			payload = json.Indent([]byte(payload))
		}
		mu.Lock()
		defer mu.Unlock()
		_, err := fmt.Fprintf(w, "%s [%s] traceId: %s\n%s\n", time.Now().Format(time.RFC3339), eventName, rail.TraceId(), payload)
		return err
	}
}
