package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"time"
	"unicode/utf8"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

func newCopyCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "copy",
		Short: "Copy stdin to a selection (like wl-copy)",
		Long: `Reads stdin and makes it the content of the chosen selection.

Without --mime, UTF-8 input is offered as text and anything else as the type
sniffed from its first bytes. To copy an image:

  wlsel copy --mime image/png < screenshot.png`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runCopy(v) },
	}

	cmd.Flags().String("mime", "", "MIME type of the data being copied (default: detect)")
	addClientFlags(cmd)

	return cmd
}

func runCopy(v *viper.Viper) error {
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return fmt.Errorf("read stdin: %w", err)
	}
	if len(data) == 0 {
		return nil
	}

	mime := v.GetString("mime")
	if mime == "" && !utf8.Valid(data) {
		mime = http.DetectContentType(data)
	}

	client, conn, _, err := connect(v)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if err := client.Copy(ctx, v.GetString("selection"), mime, data); err != nil {
		return fmt.Errorf("copy: %w", err)
	}
	return nil
}
