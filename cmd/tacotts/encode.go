package main

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/example/go-taco-tts/internal/textenc"
)

func newEncodeCmd() *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "encode [text]...",
		Short: "Encode text to symbol indices without synthesizing",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			enc, err := textenc.New(activeCfg.TTS.Strategy, activeCfg.Paths.Lexicon, slog.Default())
			if err != nil {
				return err
			}

			batch, err := textenc.EncodeBatch(enc, args)
			if err != nil {
				return err
			}

			if asJSON {
				return json.NewEncoder(os.Stdout).Encode(batch)
			}

			for i, text := range args {
				fmt.Printf("%q: length=%d dropped=%d ids=%v\n",
					text, batch.Lengths[i], batch.Dropped[i], batch.IDs[i][:batch.Lengths[i]])
			}

			return nil
		},
	}

	cmd.Flags().BoolVar(&asJSON, "json", false, "Emit the full padded batch as JSON")

	return cmd
}
