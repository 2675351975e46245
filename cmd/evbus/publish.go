package main

import (
	"fmt"
	"io"
	"os"

	"github.com/curtisnewbie/evbus/core"
	"github.com/curtisnewbie/evbus/encoding/json"
	"github.com/curtisnewbie/evbus/middleware/rabbit"
	"github.com/curtisnewbie/evbus/util/errs"
	"github.com/spf13/cobra"
)

func newPublishCmd() *cobra.Command {
	var payloadFile string
	var traceId string

	cmd := &cobra.Command{
		Use:   "publish EVENT [PAYLOAD]",
		Short: "Publish an integration event",
		Long: `Publish an integration event with a json payload to the bus exchange.
The payload is read from the argument, or from --file ('-' for stdin). Without a payload, an empty message is published.`,
		Example: `  evbus publish IdentityService.User.PasswordReset '{"Id":"u-1","PhoneNum":"13800001234"}'
  evbus publish MediaEncoding.Completed --file event.json`,
		Args: cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var raw []byte
			switch {
			case len(args) > 1:
				raw = []byte(args[1])
			case payloadFile != "":
				b, err := readPayloadFile(cmd, payloadFile)
				if err != nil {
					return err
				}
				raw = b
			}
			payload, err := parsePayload(raw)
			if err != nil {
				return err
			}

			rail := core.EmptyRail()
			if traceId != "" {
				rail = rail.WithCtxVal(core.XTraceId, traceId)
			}
			return withBus(rail, func(bus *rabbit.EventBus) error {
				if err := bus.Publish(rail, args[0], payload); err != nil {
					return err
				}
				fmt.Fprintf(cmd.OutOrStdout(), "Published '%s' to exchange '%s', traceId: %s\n", args[0], bus.Param().Exchange, rail.TraceId())
				return nil
			})
		},
	}

	cmd.Flags().StringVarP(&payloadFile, "file", "f", "", "Read json payload from file, '-' for stdin")
	cmd.Flags().StringVar(&traceId, "trace-id", "", "Trace id propagated in message headers")
	return cmd
}

func readPayloadFile(cmd *cobra.Command, path string) ([]byte, error) {
	if path == "-" {
		return io.ReadAll(cmd.InOrStdin())
	}
	b, err := os.ReadFile(path)
	if err != nil {
		return nil, errs.WrapErrf(err, "failed to read payload file '%v'", path)
	}
	return b, nil
}

// Parse payload as json, nil is returned for empty payload.
func parsePayload(raw []byte) (any, error) {
	doc, err := json.ParseDocument(raw)
	if err != nil {
		return nil, errs.WrapErrf(err, "payload is not valid json")
	}
	if doc.IsNull() {
		return nil, nil
	}
	return doc, nil
}

// Connect to broker, run f with a bus and dispose it afterwards.
func withBus(rail core.Rail, f func(bus *rabbit.EventBus) error) error {
	conn := rabbit.NewConnectionFromProp()
	bus, err := rabbit.NewEventBusFromProp(conn)
	if err != nil {
		return err
	}
	defer func() {
		if err := bus.Dispose(rail); err != nil {
			rail.Warnf("Failed to dispose event bus, %v", err)
		}
	}()

	if ok, err := conn.TryConnect(rail); !ok {
		if err == nil {
			err = rabbit.ErrNotConnected.New()
		}
		return errs.WrapErrf(err, "failed to connect to %v", conn)
	}
	return f(bus)
}
