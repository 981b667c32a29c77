package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"
)

func newStatusCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show selection owners and connected clients",
		Long: `Displays who owns each selection, the types on offer, and every
client connected to the server.

If a local server is running, the request is sent via the IPC Unix socket.
Pass --server to target a specific server directly over TCP.`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runStatus(v) },
	}

	cmd.Flags().Bool("json", false, "output raw JSON")
	addClientFlags(cmd)

	return cmd
}

func runStatus(v *viper.Viper) error {
	client, conn, transport, err := connect(v)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	st, err := client.Status(ctx)
	if err != nil {
		return fmt.Errorf("status: %w", err)
	}

	if v.GetBool("json") {
		out, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(st)
		if err != nil {
			return fmt.Errorf("status: %w", err)
		}
		fmt.Println(string(out))
		return nil
	}

	printStatus(os.Stdout, st, v.GetString("source"), transport)
	return nil
}

func printStatus(out io.Writer, st *structpb.Struct, mySource, transport string) {
	f := st.GetFields()

	w := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(w, "Transport:\t%s\n", transport)
	_, _ = fmt.Fprintf(w, "Serial:\t%s\n", humanize.Comma(int64(f["serial"].GetNumberValue())))
	_, _ = fmt.Fprintln(w)
	_ = w.Flush()

	tw := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(tw, "SELECTION\tOWNER\tSINCE\tTYPES\n")
	_, _ = fmt.Fprintf(tw, "---------\t-----\t-----\t-----\n")
	for _, ch := range f["channels"].GetListValue().GetValues() {
		c := ch.GetStructValue().GetFields()
		owner := c["owner"].GetStringValue()
		if owner == "" {
			owner = "-"
		}
		_, _ = fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n",
			c["kind"].GetStringValue(), owner, age(c["since"].GetStringValue()),
			typesSummary(stringsOf(c["types"])),
		)
	}
	_, _ = fmt.Fprintln(tw)
	_ = tw.Flush()

	clients := f["clients"].GetListValue().GetValues()
	if len(clients) == 0 {
		_, _ = fmt.Fprintln(out, "No clients connected.")
		return
	}

	cw := tabwriter.NewWriter(out, 1, 0, 2, ' ', 0)
	_, _ = fmt.Fprintf(cw, "\tCLIENT\tID\tCONNECTED\n")
	_, _ = fmt.Fprintf(cw, "\t------\t--\t---------\n")
	for _, cl := range clients {
		c := cl.GetStructValue().GetFields()
		name := c["name"].GetStringValue()
		marker := ""
		if name == mySource {
			marker = "*"
		}
		id := c["id"].GetStringValue()
		if len(id) > 8 {
			id = id[:8]
		}
		_, _ = fmt.Fprintf(cw, "%s\t%s\t%s\t%s\n", marker, name, id, age(c["connected_at"].GetStringValue()))
	}
	_ = cw.Flush()
}

func stringsOf(v *structpb.Value) []string {
	var out []string
	for _, s := range v.GetListValue().GetValues() {
		out = append(out, s.GetStringValue())
	}
	return out
}

// typesSummary lists up to three types and counts the rest.
func typesSummary(types []string) string {
	const shown = 3
	if len(types) == 0 {
		return "-"
	}
	if len(types) <= shown {
		return strings.Join(types, ", ")
	}
	return fmt.Sprintf("%s (+%d more)", strings.Join(types[:shown], ", "), len(types)-shown)
}

// age renders an RFC 3339 timestamp relative to now.
func age(ts string) string {
	if ts == "" {
		return "-"
	}
	t, err := time.Parse(time.RFC3339Nano, ts)
	if err != nil {
		return ts
	}
	return humanize.Time(t)
}
