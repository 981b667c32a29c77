package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

func newPasteCmd() *cobra.Command {
	v := viper.New()

	cmd := &cobra.Command{
		Use:   "paste",
		Short: "Print a selection to stdout (like wl-paste)",
		Long: `Retrieves the chosen selection and writes it to stdout.

Without --mime the server picks text when the selection has any and the
first offered type otherwise. If the selection is empty or does not offer
--mime, nothing is printed (exit 0). To retrieve an image:

  wlsel paste --mime image/png > screenshot.png`,
		Args:    cobra.NoArgs,
		PreRunE: func(cmd *cobra.Command, _ []string) error { return bindViper(cmd, v) },
		RunE:    func(_ *cobra.Command, _ []string) error { return runPaste(v) },
	}

	cmd.Flags().String("mime", "", "MIME type to output (default: server's choice)")
	cmd.Flags().Bool("show-type", false, "print the served MIME type to stderr")
	addClientFlags(cmd)

	return cmd
}

func runPaste(v *viper.Viper) error {
	client, conn, _, err := connect(v)
	if err != nil {
		return err
	}
	defer conn.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	served, data, err := client.Paste(ctx, v.GetString("selection"), v.GetString("mime"))
	if status.Code(err) == codes.NotFound {
		// Nothing offered in that type: exit 0, print nothing.
		return nil
	}
	if err != nil {
		return fmt.Errorf("paste: %w", err)
	}

	if v.GetBool("show-type") {
		fmt.Fprintln(os.Stderr, served)
	}
	_, err = os.Stdout.Write(data)
	return err
}
