package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

func newWatchCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "watch",
		Short: "Print selection ownership changes as they happen",
		Long: `Streams one line per change of selection owner until interrupted.

--selection limits the stream to one selection; pass --selection "" to see
both.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runWatch(v) },
	}

	cmd.Flags().Bool("json", false, "output one JSON object per line")
	addClientFlags(cmd)

	return cmd
}

func runWatch(v *viper.Viper) error {
	client, conn, _, err := connect(v)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
	defer stop()

	stream, err := client.Watch(ctx, v.GetString("selection"))
	if err != nil {
		return fmt.Errorf("watch: %w", err)
	}
	jsonOut := v.GetBool("json")
	for {
		ev, err := stream.Recv()
		if errors.Is(err, io.EOF) || status.Code(err) == codes.Canceled {
			return nil
		}
		if err != nil {
			return fmt.Errorf("watch: %w", err)
		}
		if jsonOut {
			out, err := protojson.Marshal(ev)
			if err != nil {
				return fmt.Errorf("watch: %w", err)
			}
			fmt.Println(string(out))
			continue
		}
		printEvent(os.Stdout, ev)
	}
}

func printEvent(w io.Writer, ev *structpb.Struct) {
	f := ev.GetFields()
	at := f["at"].GetStringValue()
	if t, err := time.Parse(time.RFC3339Nano, at); err == nil {
		at = t.Local().Format("15:04:05.000")
	}
	owner := f["owner"].GetStringValue()
	if owner == "" {
		owner = "(cleared)"
	}
	_, _ = fmt.Fprintf(w, "%s  %-9s  %s  %s\n", at, f["kind"].GetStringValue(), owner,
		strings.Join(stringsOf(f["types"]), ","))
}
